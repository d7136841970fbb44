// Package settlement holds the pure decision logic of the reconciliation engine:
// deposit matching, routing, order sizing and withdrawal limits. Nothing here
// performs I/O.
package settlement

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"payrail/internal/exchange"
	"payrail/internal/models"
)

var hundred = decimal.NewFromInt(100)

// LastTwoDigits returns floor(amount*100) mod 100 as two digits, e.g. 120.07 -> "07"
func LastTwoDigits(amount decimal.Decimal) string {
	cents := amount.Abs().Mul(hundred).Floor().IntPart()
	return fmt.Sprintf("%02d", cents%100)
}

// GenerateRefID draws a reference code in 00..99
func GenerateRefID() string {
	return fmt.Sprintf("%02d", rand.Intn(100))
}

// Match pairs a pending record with the deposit that paid it.
// Collisions lists the keys of other pending records the same deposit would also satisfy.
type Match struct {
	Record     models.Settlement
	Deposit    exchange.Deposit
	Collisions []string
}

// MatchDeposits assigns confirmed deposits inside the window to pending records.
// Records are visited in order and each takes the first unused deposit that fits,
// so a deposit is consumed at most once per run.
func MatchDeposits(records []models.Settlement, deposits []exchange.Deposit, now time.Time, window time.Duration) []Match {
	eligible := make([]exchange.Deposit, 0, len(deposits))
	for _, d := range deposits {
		if !d.Confirmed() {
			continue
		}
		if window > 0 && time.UnixMilli(d.InsertTime).Before(now.Add(-window)) {
			continue
		}
		eligible = append(eligible, d)
	}

	used := make(map[string]bool, len(eligible))
	var matches []Match
	for _, r := range records {
		for _, d := range eligible {
			if used[d.TxID] || !Fits(r, d) {
				continue
			}
			used[d.TxID] = true
			matches = append(matches, Match{Record: r, Deposit: d})
			break
		}
	}

	for i := range matches {
		for _, r := range records {
			if r.Key() == matches[i].Record.Key() {
				continue
			}
			if Fits(r, matches[i].Deposit) {
				matches[i].Collisions = append(matches[i].Collisions, r.Key())
			}
		}
	}
	return matches
}

// Fits reports whether deposit d could be the payment for record r
func Fits(r models.Settlement, d exchange.Deposit) bool {
	return LastTwoDigits(d.Amount) == r.RefID &&
		strings.EqualFold(d.Coin, r.FromCoin) &&
		r.FromNetwork.MatchesExchangeNetwork(d.Network)
}
