package service

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
	"payrail/internal/models"
)

var tenThousand = decimal.NewFromInt(10000)

// FeeService computes the operator fee charged on payment requests
type FeeService struct {
	chains map[models.NetworkIndex]config.ChainConfig
	logger *zap.Logger
}

// NewFeeService creates a new fee service
func NewFeeService(cfg *config.Config, logger *zap.Logger) *FeeService {
	return &FeeService{
		chains: cfg.Chains,
		logger: logger,
	}
}

// PaymentFee returns max(amount * feeBps / 10000, floor) for a payment of asset
// deposited on network. The fee is in units of asset. Native coin payments use
// the network's MinFee as the floor, tokens use their TokenMinFees entry.
func (s *FeeService) PaymentFee(network models.NetworkIndex, asset string, amount decimal.Decimal) (decimal.Decimal, error) {
	chainCfg, ok := s.chains[network]
	if !ok {
		return decimal.Zero, fmt.Errorf("network %s not configured: %w", network, chain.ErrUnsupportedNetwork)
	}
	if !amount.IsPositive() {
		return decimal.Zero, chain.Invalid("amount must be positive, got %s", amount)
	}

	fee := amount.Mul(decimal.NewFromInt(chainCfg.FeeBps)).Div(tenThousand)
	if floor := minFee(chainCfg, network, asset); fee.LessThan(floor) {
		fee = floor
	}

	s.logger.Debug("Calculated payment fee",
		zap.String("network", string(network)),
		zap.String("asset", asset),
		zap.String("amount", amount.String()),
		zap.String("fee", fee.String()))

	return fee, nil
}

// ValidateAmount rejects payments whose fee would consume the whole amount
func (s *FeeService) ValidateAmount(network models.NetworkIndex, asset string, amount decimal.Decimal) error {
	fee, err := s.PaymentFee(network, asset, amount)
	if err != nil {
		return err
	}
	if !amount.GreaterThan(fee) {
		return chain.Invalid("amount %s does not cover the fee %s %s on %s", amount, fee, asset, network)
	}
	return nil
}

func minFee(cfg config.ChainConfig, network models.NetworkIndex, asset string) decimal.Decimal {
	if asset == "" || strings.EqualFold(asset, network.NativeSymbol()) {
		return cfg.MinFee
	}
	return cfg.TokenMinFees[strings.ToUpper(asset)]
}
