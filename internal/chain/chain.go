package chain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"payrail/internal/models"
)

// FeeKind selects which transfer the fee estimate is for
type FeeKind string

const (
	FeeNative FeeKind = "native"
	FeeToken  FeeKind = "token"
)

// Adapter is the capability set every chain implements. Amounts are in human units.
type Adapter interface {
	Network() models.NetworkIndex

	// DeriveCredential derives the chain's standard account from a BIP-39 phrase.
	DeriveCredential(ctx context.Context, mnemonic string) (models.Credential, error)

	// IsValidAddress checks syntax and checksum. It never panics.
	IsValidAddress(address string) bool

	// NativeBalance returns zero for an account the chain does not know yet.
	NativeBalance(ctx context.Context, address string) (decimal.Decimal, error)

	// TokenBalance returns zero when the token account does not exist.
	TokenBalance(ctx context.Context, address, contract string, decimals int32) (decimal.Decimal, error)

	// NativeTransfer re-checks the balance right before building the transaction.
	NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error)

	TokenTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal, contract string, decimals int32) (string, error)

	EstimateFee(ctx context.Context, kind FeeKind) (decimal.Decimal, error)
}

// SwapQuote is an adapter-specific quote for an on-chain swap
type SwapQuote struct {
	FromAsset string
	ToAsset   string
	SrcAmount decimal.Decimal
	Raw       []byte
}

// SwapResult is the outcome of an on-chain swap
type SwapResult struct {
	TxHash     string
	SrcAmount  decimal.Decimal
	DestAmount decimal.Decimal
}

// Swapper is implemented by chains with a built-in exchange
type Swapper interface {
	SwapQuote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*SwapQuote, error)
	Swap(ctx context.Context, quote *SwapQuote, privateKey, address string) (*SwapResult, error)
}

// Swap runs an on-chain swap if the adapter supports it
func Swap(ctx context.Context, a Adapter, quote *SwapQuote, privateKey, address string) (*SwapResult, error) {
	s, ok := a.(Swapper)
	if !ok {
		return nil, fmt.Errorf("swap on %s: %w", a.Network(), ErrUnsupportedOperation)
	}
	return s.Swap(ctx, quote, privateKey, address)
}

// CheckBalance is the pre-send guard shared by all adapters
func CheckBalance(balance, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Invalid("amount must be positive, got %s", amount)
	}
	if balance.LessThan(amount) {
		return Insufficient(balance, amount)
	}
	return nil
}
