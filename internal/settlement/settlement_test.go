package settlement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payrail/internal/chain"
	"payrail/internal/exchange"
	"payrail/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pending(id int64, refID string, network models.NetworkIndex, coin string) models.Settlement {
	return models.Settlement{
		Kind:        models.RecordKindPayment,
		ID:          id,
		RefID:       refID,
		FromNetwork: network,
		FromCoin:    coin,
		Status:      models.StatusPending,
	}
}

func deposit(txID, coin, network, amount string, age time.Duration) exchange.Deposit {
	return exchange.Deposit{
		TxID:       txID,
		Coin:       coin,
		Network:    network,
		Amount:     d(amount),
		InsertTime: now.Add(-age).UnixMilli(),
		Status:     exchange.DepositConfirmed,
	}
}

func TestLastTwoDigits(t *testing.T) {
	tests := []struct {
		amount string
		want   string
	}{
		{"120.07", "07"},
		{"45.07", "07"},
		{"10.12", "12"},
		{"10.129", "12"},
		{"5", "00"},
		{"0.99", "99"},
		{"1.1", "10"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LastTwoDigits(d(tt.amount)), tt.amount)
	}
}

func TestGenerateRefID(t *testing.T) {
	for i := 0; i < 50; i++ {
		ref := GenerateRefID()
		require.Len(t, ref, 2)
		assert.GreaterOrEqual(t, ref, "00")
		assert.LessOrEqual(t, ref, "99")
	}
}

func TestMatchDeposits_OnlyMatchingRefID(t *testing.T) {
	records := []models.Settlement{
		pending(1, "07", models.NetworkBSC, "BNB"),
		pending(2, "12", models.NetworkBSC, "BNB"),
	}
	deposits := []exchange.Deposit{deposit("0xaaa", "BNB", "BSC", "120.07", time.Minute)}

	first := MatchDeposits(records, deposits, now, 30*time.Minute)
	require.Len(t, first, 1)
	assert.Equal(t, int64(1), first[0].Record.ID)
	assert.Equal(t, "0xaaa", first[0].Deposit.TxID)
	assert.Empty(t, first[0].Collisions)

	second := MatchDeposits(records, deposits, now, 30*time.Minute)
	assert.Equal(t, first, second)
}

func TestMatchDeposits_Filters(t *testing.T) {
	record := pending(1, "07", models.NetworkTron, "USDT")

	tests := []struct {
		name    string
		deposit exchange.Deposit
		match   bool
	}{
		{"alias label", deposit("t1", "USDT", "TRX", "50.07", time.Minute), true},
		{"canonical label", deposit("t2", "usdt", "TRON", "50.07", time.Minute), true},
		{"wrong coin", deposit("t3", "USDC", "TRX", "50.07", time.Minute), false},
		{"wrong network", deposit("t4", "USDT", "ETH", "50.07", time.Minute), false},
		{"wrong digits", deposit("t5", "USDT", "TRX", "50.08", time.Minute), false},
		{"outside window", deposit("t6", "USDT", "TRX", "50.07", time.Hour), false},
		{"unconfirmed", func() exchange.Deposit {
			dep := deposit("t7", "USDT", "TRX", "50.07", time.Minute)
			dep.Status = 0
			return dep
		}(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := MatchDeposits([]models.Settlement{record}, []exchange.Deposit{tt.deposit}, now, 30*time.Minute)
			assert.Equal(t, tt.match, len(matches) == 1)
		})
	}
}

func TestMatchDeposits_Collision(t *testing.T) {
	records := []models.Settlement{
		pending(1, "07", models.NetworkBSC, "BNB"),
		pending(2, "07", models.NetworkBSC, "BNB"),
	}

	one := []exchange.Deposit{deposit("0xaaa", "BNB", "BSC", "45.07", time.Minute)}
	matches := MatchDeposits(records, one, now, 30*time.Minute)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(1), matches[0].Record.ID)
	assert.Equal(t, []string{"payment-2"}, matches[0].Collisions)

	two := append(one, deposit("0xbbb", "BNB", "BSC", "12.07", 2*time.Minute))
	matches = MatchDeposits(records, two, now, 30*time.Minute)
	require.Len(t, matches, 2)
	assert.Equal(t, "0xaaa", matches[0].Deposit.TxID)
	assert.Equal(t, "0xbbb", matches[1].Deposit.TxID)
	assert.Equal(t, []string{"payment-1"}, matches[1].Collisions)
}

func TestResolveRoute(t *testing.T) {
	tests := []struct {
		name string
		s    models.Settlement
		want models.ExchangeType
	}{
		{"same", models.Settlement{FromCoin: "BNB", ToCoin: "bnb", FromNetwork: models.NetworkBSC, ToNetwork: models.NetworkBSC}, models.ExchangeTypeSame},
		{"bridge", models.Settlement{FromCoin: "USDT", ToCoin: "USDT", FromNetwork: models.NetworkTron, ToNetwork: models.NetworkEthereum}, models.ExchangeTypeBridge},
		{"exchange", models.Settlement{FromCoin: "USDT", ToCoin: "NEAR", FromNetwork: models.NetworkTron, ToNetwork: models.NetworkNear}, models.ExchangeTypeExchange},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveRoute(tt.s), tt.name)
	}

	stored := models.Settlement{FromCoin: "USDT", ToCoin: "NEAR", ExchangeType: models.ExchangeTypeBridge}
	assert.Equal(t, models.ExchangeTypeBridge, Route(stored))
}

func TestOrderSide(t *testing.T) {
	sym := exchange.Symbol{Symbol: "NEARUSDT", BaseAsset: "NEAR", QuoteAsset: "USDT"}
	assert.Equal(t, models.SideSell, OrderSide("near", sym))
	assert.Equal(t, models.SideBuy, OrderSide("USDT", sym))
}

func TestFloorToStep(t *testing.T) {
	assert.Equal(t, "3.4", FloorToStep(d("3.47"), d("0.1")).String())
	assert.Equal(t, "3.47", FloorToStep(d("3.47"), decimal.Zero).String())
	assert.Equal(t, "12", FloorToStep(d("12.99"), d("1")).String())
	assert.Equal(t, "0.001", FloorToStep(d("0.0019"), d("0.001")).String())

	for _, v := range []string{"3.47", "0.123456789", "1000.5"} {
		once := FloorToStep(d(v), d("0.01"))
		assert.True(t, once.Equal(FloorToStep(once, d("0.01"))), v)
		assert.True(t, once.LessThanOrEqual(d(v)), v)
	}
}

func TestOrderQuantity(t *testing.T) {
	qty, err := OrderQuantity(models.SideSell, d("3.47"), d("7"), d("0.1"))
	require.NoError(t, err)
	assert.Equal(t, "3.4", qty.String())

	qty, err = OrderQuantity(models.SideBuy, d("70"), d("7.00"), d("0.1"))
	require.NoError(t, err)
	assert.Equal(t, "10", qty.String())

	qty, err = OrderQuantity(models.SideBuy, d("10"), d("3"), d("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "3.33", qty.String())

	_, err = OrderQuantity(models.SideBuy, d("10"), decimal.Zero, d("0.1"))
	assert.ErrorIs(t, err, chain.ErrValidation)

	_, err = OrderQuantity(models.SideSell, d("0.05"), d("1"), d("0.1"))
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestPayoutAmount(t *testing.T) {
	fee := d("0.07")
	s := models.Settlement{Amount: d("12.07")}
	assert.Equal(t, "12.07", PayoutAmount(s, nil).String())

	s.Fee = fee
	assert.Equal(t, "12", PayoutAmount(s, nil).String())

	buy := &exchange.Order{Side: "BUY", ExecutedQty: d("10"), CummulativeQuoteQty: d("70")}
	assert.Equal(t, "10", PayoutAmount(s, buy).String())

	sell := &exchange.Order{Side: "SELL", ExecutedQty: d("3.4"), CummulativeQuoteQty: d("23.8")}
	assert.Equal(t, "23.8", PayoutAmount(s, sell).String())
}

func TestCheckWithdrawLimits(t *testing.T) {
	cfg := exchange.NetworkConfig{
		Coin:           "BNB",
		Network:        "BSC",
		WithdrawEnable: true,
		WithdrawMin:    d("0.01"),
		WithdrawMax:    d("100"),
		DepositDust:    d("0.001"),
	}

	tests := []struct {
		name   string
		mutate func(*exchange.NetworkConfig)
		amount string
		want   models.Status
	}{
		{"allowed", nil, "12.07", ""},
		{"disabled", func(c *exchange.NetworkConfig) { c.WithdrawEnable = false }, "12.07", models.StatusFailed},
		{"below min", nil, "0.005", models.StatusCancelled},
		{"fee only", func(c *exchange.NetworkConfig) { c.WithdrawFee = d("0.0005"); c.WithdrawMin = decimal.Zero }, "0.0005", models.StatusCancelled},
		{"covers fee", func(c *exchange.NetworkConfig) { c.WithdrawFee = d("0.0005") }, "12.07", ""},
		{"below dust", func(c *exchange.NetworkConfig) { c.WithdrawMin = decimal.Zero }, "0.0005", models.StatusCancelled},
		{"above max", nil, "100.01", models.StatusCancelled},
		{"no max", func(c *exchange.NetworkConfig) { c.WithdrawMax = decimal.Zero }, "1000000", ""},
		{"zero", nil, "0", models.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			if tt.mutate != nil {
				tt.mutate(&c)
			}
			got := CheckWithdrawLimits(c, d(tt.amount))
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.want == "", got.Allowed())
			if !got.Allowed() {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestLimitPrice(t *testing.T) {
	sym := exchange.Symbol{Symbol: "NEARUSDT", TickSize: d("0.001")}

	price, err := LimitPrice(d("7.00349"), sym)
	require.NoError(t, err)
	assert.Equal(t, "7.003", price.String())

	price, err = LimitPrice(d("7.25"), exchange.Symbol{Symbol: "NEARUSDT"})
	require.NoError(t, err)
	assert.Equal(t, "7.25", price.String())

	_, err = LimitPrice(d("0.0004"), sym)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestCheckOrder(t *testing.T) {
	sym := exchange.Symbol{Symbol: "NEARUSDT", Status: exchange.SymbolStatusTrading, MinQty: d("1"), StepSize: d("0.1")}

	tests := []struct {
		name   string
		status string
		qty    string
		want   models.Status
	}{
		{"allowed", exchange.SymbolStatusTrading, "3.4", ""},
		{"at minimum", exchange.SymbolStatusTrading, "1", ""},
		{"below minimum", exchange.SymbolStatusTrading, "0.5", models.StatusCancelled},
		{"halted", "BREAK", "3.4", models.StatusCancelled},
		{"no status", "", "3.4", models.StatusCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sym
			s.Status = tt.status
			got := CheckOrder(s, d(tt.qty))
			assert.Equal(t, tt.want, got.Status)
			if !got.Allowed() {
				assert.Contains(t, got.Reason, "NEARUSDT")
			}
		})
	}

	noMin := sym
	noMin.MinQty = decimal.Zero
	assert.True(t, CheckOrder(noMin, d("0.1")).Allowed())
}

func TestWithdrawAmount(t *testing.T) {
	cfg := exchange.NetworkConfig{WithdrawIntegerMultiple: d("0.0001")}
	assert.Equal(t, "9.9999", WithdrawAmount(cfg, d("9.99996")).String())
	assert.Equal(t, "9.99996", WithdrawAmount(exchange.NetworkConfig{}, d("9.99996")).String())
}
