package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
	"payrail/internal/models"
)

func feeConfig() *config.Config {
	return &config.Config{
		Chains: map[models.NetworkIndex]config.ChainConfig{
			models.NetworkBSC: {
				Network:      models.NetworkBSC,
				FeeBps:       50,
				MinFee:       decimal.RequireFromString("0.01"),
				TokenMinFees: map[string]decimal.Decimal{"USDT": decimal.RequireFromString("1")},
			},
			models.NetworkEthereum: {Network: models.NetworkEthereum, FeeBps: 30, MinFee: decimal.RequireFromString("0.001")},
			models.NetworkTron:     {Network: models.NetworkTron},
		},
	}
}

func TestFeeService_PaymentFee(t *testing.T) {
	svc := NewFeeService(feeConfig(), zap.NewNop())

	tests := []struct {
		name    string
		network models.NetworkIndex
		asset   string
		amount  string
		want    string
	}{
		{"percentage applies", models.NetworkBSC, "BNB", "100", "0.5"},
		{"minimum applies", models.NetworkBSC, "BNB", "1", "0.01"},
		{"exact minimum", models.NetworkBSC, "BNB", "2", "0.01"},
		{"native by default", models.NetworkBSC, "", "1", "0.01"},
		{"token minimum", models.NetworkBSC, "usdt", "50", "1"},
		{"token percentage", models.NetworkBSC, "USDT", "1000", "5"},
		{"token without minimum", models.NetworkBSC, "USDC", "1", "0.005"},
		{"native minimum skips tokens", models.NetworkEthereum, "USDT", "2", "0.006"},
		{"native minimum on native", models.NetworkEthereum, "ETH", "0.2", "0.001"},
		{"no fee configured", models.NetworkTron, "TRX", "250", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fee, err := svc.PaymentFee(tt.network, tt.asset, decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(fee), "got %s", fee)
		})
	}
}

func TestFeeService_Errors(t *testing.T) {
	svc := NewFeeService(feeConfig(), zap.NewNop())

	_, err := svc.PaymentFee(models.NetworkSolana, "SOL", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, chain.ErrUnsupportedNetwork)

	_, err = svc.PaymentFee(models.NetworkBSC, "BNB", decimal.Zero)
	assert.ErrorIs(t, err, chain.ErrValidation)
}

func TestFeeService_ValidateAmount(t *testing.T) {
	svc := NewFeeService(feeConfig(), zap.NewNop())

	assert.NoError(t, svc.ValidateAmount(models.NetworkBSC, "BNB", decimal.RequireFromString("12.07")))
	assert.ErrorIs(t, svc.ValidateAmount(models.NetworkBSC, "BNB", decimal.RequireFromString("0.01")), chain.ErrValidation)
	assert.ErrorIs(t, svc.ValidateAmount(models.NetworkBSC, "BNB", decimal.RequireFromString("0.005")), chain.ErrValidation)

	// a 0.5 USDT payment is above the 0.01 BNB floor but not the 1 USDT one
	assert.ErrorIs(t, svc.ValidateAmount(models.NetworkBSC, "USDT", decimal.RequireFromString("0.5")), chain.ErrValidation)
	assert.NoError(t, svc.ValidateAmount(models.NetworkEthereum, "USDT", decimal.RequireFromString("0.5")))
}
