package settlement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payrail/internal/chain"
	"payrail/internal/exchange"
	"payrail/internal/models"
)

// ResolveRoute picks the settlement path. The same coin on the same network is a
// passthrough, the same coin elsewhere is a bridge, anything else needs a trade.
func ResolveRoute(s models.Settlement) models.ExchangeType {
	if !strings.EqualFold(s.FromCoin, s.ToCoin) {
		return models.ExchangeTypeExchange
	}
	if s.FromNetwork == s.ToNetwork {
		return models.ExchangeTypeSame
	}
	return models.ExchangeTypeBridge
}

// Route returns the stored exchange type, falling back to ResolveRoute
func Route(s models.Settlement) models.ExchangeType {
	if s.ExchangeType != "" {
		return s.ExchangeType
	}
	return ResolveRoute(s)
}

// OrderSide sells when the record's coin is the pair's base asset and buys otherwise
func OrderSide(fromCoin string, sym exchange.Symbol) models.Side {
	if strings.EqualFold(fromCoin, sym.BaseAsset) {
		return models.SideSell
	}
	return models.SideBuy
}

// FloorToStep rounds v toward zero to a multiple of step. A non-positive step leaves v unchanged.
func FloorToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Truncate(0).Mul(step)
}

// OrderQuantity sizes an order in base asset units. A sell spends amount of the base
// asset; a buy spends amount of the quote asset at price. The result is floored to step.
func OrderQuantity(side models.Side, amount, price, step decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, chain.Invalid("amount must be positive, got %s", amount)
	}
	raw := amount
	if side == models.SideBuy {
		if !price.IsPositive() {
			return decimal.Zero, chain.Invalid("buy order needs a positive price, got %s", price)
		}
		raw = amount.Div(price)
	}
	qty := FloorToStep(raw, step)
	if !qty.IsPositive() {
		return decimal.Zero, chain.Invalid("quantity %s is below the lot step %s", raw, step)
	}
	return qty, nil
}

// PayoutAmount is what leaves the exchange for the destination address.
// Without an order it is the record amount net of its fee; after a trade it is
// what the order actually yielded.
func PayoutAmount(s models.Settlement, order *exchange.Order) decimal.Decimal {
	if order == nil {
		return s.Amount.Sub(s.Fee)
	}
	if strings.EqualFold(order.Side, string(models.SideSell)) {
		return order.CummulativeQuoteQty
	}
	return order.ExecutedQty
}

// Decision is the outcome of a withdrawal limit check. A zero Status means allowed.
type Decision struct {
	Status models.Status
	Reason string
}

// Allowed reports whether the withdrawal may proceed
func (d Decision) Allowed() bool {
	return d.Status == ""
}

// CheckWithdrawLimits applies the exchange's per-network withdrawal policy.
// A disabled network fails the record, an amount out of bounds cancels it.
func CheckWithdrawLimits(cfg exchange.NetworkConfig, amount decimal.Decimal) Decision {
	if !cfg.WithdrawEnable {
		return Decision{
			Status: models.StatusFailed,
			Reason: fmt.Sprintf("withdrawals of %s on %s are disabled", cfg.Coin, cfg.Network),
		}
	}
	if !amount.IsPositive() {
		return Decision{Status: models.StatusCancelled, Reason: fmt.Sprintf("payout amount %s is not positive", amount)}
	}
	if amount.LessThan(cfg.WithdrawMin) {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("amount %s is below the withdrawal minimum %s", amount, cfg.WithdrawMin),
		}
	}
	if cfg.WithdrawFee.IsPositive() && amount.LessThanOrEqual(cfg.WithdrawFee) {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("amount %s does not cover the withdrawal fee %s", amount, cfg.WithdrawFee),
		}
	}
	if cfg.DepositDust.IsPositive() && amount.LessThan(cfg.DepositDust) {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("amount %s is below the dust threshold %s", amount, cfg.DepositDust),
		}
	}
	if cfg.WithdrawMax.IsPositive() && amount.GreaterThan(cfg.WithdrawMax) {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("amount %s is above the withdrawal maximum %s", amount, cfg.WithdrawMax),
		}
	}
	return Decision{}
}

// LimitPrice floors a requested limit price to the pair's tick size
func LimitPrice(price decimal.Decimal, sym exchange.Symbol) (decimal.Decimal, error) {
	tick := FloorToStep(price, sym.TickSize)
	if !tick.IsPositive() {
		return decimal.Zero, chain.Invalid("limit price %s is below the tick size %s of %s", price, sym.TickSize, sym.Symbol)
	}
	return tick, nil
}

// CheckOrder applies the pair's status and lot size filters to an order quantity.
// A failed check cancels the record.
func CheckOrder(sym exchange.Symbol, qty decimal.Decimal) Decision {
	if !sym.Trading() {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("pair %s is not trading (status %q)", sym.Symbol, sym.Status),
		}
	}
	if sym.MinQty.IsPositive() && qty.LessThan(sym.MinQty) {
		return Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("order quantity %s is below the %s minimum %s", qty, sym.Symbol, sym.MinQty),
		}
	}
	return Decision{}
}

// WithdrawAmount floors amount to the network's withdrawal multiple
func WithdrawAmount(cfg exchange.NetworkConfig, amount decimal.Decimal) decimal.Decimal {
	return FloorToStep(amount, cfg.WithdrawIntegerMultiple)
}
