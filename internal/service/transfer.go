package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tyler-smith/go-bip39"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"payrail/internal/chain"
	"payrail/internal/metrics"
	"payrail/internal/models"
	"payrail/internal/registry"
)

// Directory is the wallet and token lookup the orchestrator needs
type Directory interface {
	FindActiveNetworks(ctx context.Context) ([]models.Network, error)
	FindWallet(ctx context.Context, userID string, network models.NetworkIndex) (*models.Wallet, error)
	WalletExists(ctx context.Context, userID, address string) (bool, error)
	CreateWallet(ctx context.Context, wallet *models.Wallet) error
	FindTokenByID(ctx context.Context, id int64) (*models.Token, error)
	ListTokensByNetwork(ctx context.Context, network models.NetworkIndex) ([]models.Token, error)
}

// TransferResult is a broadcast transaction
type TransferResult struct {
	Network models.NetworkIndex `json:"network"`
	Hash    string              `json:"hash"`
	Token   string              `json:"token,omitempty"`
}

// TokenBalance is the balance of one token
type TokenBalance struct {
	TokenID  int64           `json:"token_id"`
	Symbol   string          `json:"symbol"`
	Contract string          `json:"contract"`
	Balance  decimal.Decimal `json:"balance"`
}

// NetworkBalance is a user's holdings on one network
type NetworkBalance struct {
	Network models.NetworkIndex `json:"network"`
	Address string              `json:"address"`
	Symbol  string              `json:"symbol"`
	Native  decimal.Decimal     `json:"native"`
	Tokens  []TokenBalance      `json:"tokens"`
}

// TransferService fans wallet operations out to the chain adapters
type TransferService struct {
	registry  *registry.Registry
	directory Directory
	logger    *zap.Logger
}

// NewTransferService creates the transfer orchestrator
func NewTransferService(reg *registry.Registry, directory Directory, logger *zap.Logger) *TransferService {
	return &TransferService{
		registry:  reg,
		directory: directory,
		logger:    logger,
	}
}

// CreateWallets derives the user's account on every registered chain and stores
// the ones on active networks. Existing wallets are returned unchanged.
func (s *TransferService) CreateWallets(ctx context.Context, userID, mnemonic string) ([]models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, chain.Invalid("user id is required")
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, chain.Invalid("invalid mnemonic")
	}

	adapters := s.registry.All()
	creds := make([]models.Credential, 0, len(adapters))
	for _, a := range adapters {
		cred, err := a.DeriveCredential(ctx, mnemonic)
		if err != nil {
			return nil, fmt.Errorf("derive %s wallet: %w", a.Network(), errors.Join(chain.ErrInternal, err))
		}
		creds = append(creds, cred)
	}

	networks, err := s.directory.FindActiveNetworks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load networks: %w", err)
	}
	active := make(map[models.NetworkIndex]bool, len(networks))
	for _, n := range networks {
		active[n.Index] = n.IsActive
	}

	wallets := make([]models.Wallet, 0, len(creds))
	for _, cred := range creds {
		if !active[cred.Network] {
			continue
		}

		exists, err := s.directory.WalletExists(ctx, userID, cred.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to check %s wallet: %w", cred.Network, err)
		}
		if exists {
			if w, err := s.directory.FindWallet(ctx, userID, cred.Network); err == nil && w != nil {
				wallets = append(wallets, *w)
			}
			continue
		}

		w := models.Wallet{UserID: userID, Address: cred.Address, Network: cred.Network}
		if err := s.directory.CreateWallet(ctx, &w); err != nil {
			return nil, fmt.Errorf("failed to store %s wallet: %w", cred.Network, err)
		}
		s.logger.Info("Wallet created",
			zap.String("user_id", userID),
			zap.String("network", string(cred.Network)),
			zap.String("address", cred.Address))
		wallets = append(wallets, w)
	}

	return wallets, nil
}

// Transfer sends the native asset from the user's wallet
func (s *TransferService) Transfer(ctx context.Context, userID string, network models.NetworkIndex, privKey, to string, amount decimal.Decimal) (*TransferResult, error) {
	adapter, wallet, err := s.prepare(ctx, userID, network, to, amount)
	if err != nil {
		return nil, err
	}

	hash, err := adapter.NativeTransfer(ctx, wallet.Address, privKey, to, amount)
	if err != nil {
		return nil, err
	}
	metrics.TransfersSubmitted.WithLabelValues(string(network), "native").Inc()

	s.logger.Info("Native transfer submitted",
		zap.String("user_id", userID),
		zap.String("network", string(network)),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", hash))

	return &TransferResult{Network: network, Hash: hash}, nil
}

// TransferToken sends a known token from the user's wallet
func (s *TransferService) TransferToken(ctx context.Context, userID string, network models.NetworkIndex, privKey, to string, amount decimal.Decimal, tokenID int64) (*TransferResult, error) {
	adapter, wallet, err := s.prepare(ctx, userID, network, to, amount)
	if err != nil {
		return nil, err
	}

	token, err := s.directory.FindTokenByID(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token %d: %w", tokenID, err)
	}
	if token == nil {
		return nil, fmt.Errorf("token %d: %w", tokenID, chain.ErrNotFound)
	}
	if token.Network != network {
		return nil, chain.Invalid("token %s lives on %s, not %s", token.Symbol, token.Network, network)
	}

	hash, err := adapter.TokenTransfer(ctx, wallet.Address, privKey, to, amount, token.Contract, token.Decimals)
	if err != nil {
		return nil, err
	}
	metrics.TransfersSubmitted.WithLabelValues(string(network), "token").Inc()

	s.logger.Info("Token transfer submitted",
		zap.String("user_id", userID),
		zap.String("network", string(network)),
		zap.String("token", token.Symbol),
		zap.String("to", to),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", hash))

	return &TransferResult{Network: network, Hash: hash, Token: token.Symbol}, nil
}

func (s *TransferService) prepare(ctx context.Context, userID string, network models.NetworkIndex, to string, amount decimal.Decimal) (chain.Adapter, *models.Wallet, error) {
	adapter, err := s.registry.Get(network)
	if err != nil {
		return nil, nil, err
	}
	wallet, err := s.directory.FindWallet(ctx, userID, network)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load wallet: %w", err)
	}
	if wallet == nil {
		return nil, nil, fmt.Errorf("%s wallet of %s: %w", network, userID, chain.ErrNotFound)
	}
	if !adapter.IsValidAddress(to) {
		return nil, nil, chain.Invalid("invalid %s address %q", network, to)
	}
	if !amount.IsPositive() {
		return nil, nil, chain.Invalid("amount must be positive, got %s", amount)
	}
	return adapter, wallet, nil
}

// GetBalances reads native and token balances on every registered network the
// user has a wallet on. The first failing network aborts the call.
func (s *TransferService) GetBalances(ctx context.Context, userID string) ([]NetworkBalance, error) {
	adapters := s.registry.All()
	results := make([]*NetworkBalance, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			bal, err := s.networkBalance(gctx, userID, a)
			if err != nil {
				return fmt.Errorf("%s balances: %w", a.Network(), err)
			}
			results[i] = bal
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]NetworkBalance, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *TransferService) networkBalance(ctx context.Context, userID string, a chain.Adapter) (*NetworkBalance, error) {
	network := a.Network()
	wallet, err := s.directory.FindWallet(ctx, userID, network)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, nil
	}

	native, err := a.NativeBalance(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}

	tokens, err := s.directory.ListTokensByNetwork(ctx, network)
	if err != nil {
		return nil, err
	}

	bal := &NetworkBalance{
		Network: network,
		Address: wallet.Address,
		Symbol:  network.NativeSymbol(),
		Native:  native,
		Tokens:  make([]TokenBalance, 0, len(tokens)),
	}
	for _, t := range tokens {
		amount, err := a.TokenBalance(ctx, wallet.Address, t.Contract, t.Decimals)
		if errors.Is(err, chain.ErrUnsupportedOperation) {
			continue
		}
		if err != nil {
			return nil, err
		}
		bal.Tokens = append(bal.Tokens, TokenBalance{
			TokenID:  t.ID,
			Symbol:   t.Symbol,
			Contract: t.Contract,
			Balance:  amount,
		})
	}
	return bal, nil
}

// EstimateFee returns the network fee of a native or token transfer
func (s *TransferService) EstimateFee(ctx context.Context, network models.NetworkIndex, kind chain.FeeKind) (decimal.Decimal, error) {
	if kind != chain.FeeNative && kind != chain.FeeToken {
		return decimal.Zero, chain.Invalid("fee kind must be native or token, got %q", kind)
	}
	adapter, err := s.registry.Get(network)
	if err != nil {
		return decimal.Zero, err
	}
	return adapter.EstimateFee(ctx, kind)
}

// ValidateAddress checks a payout address against the network's adapter
func (s *TransferService) ValidateAddress(network models.NetworkIndex, address string) error {
	adapter, err := s.registry.Get(network)
	if err != nil {
		return err
	}
	if !adapter.IsValidAddress(address) {
		return chain.Invalid("invalid %s address %q", network, address)
	}
	return nil
}
