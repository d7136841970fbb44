package solana

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/hdwallet"
	"payrail/internal/config"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	derivationPath = "m/44'/501'/0'/0'"

	// LamportsPerSignature is the base fee of a single-signer transaction
	LamportsPerSignature uint64 = 5000
)

// Adapter implements chain.Adapter for Solana
type Adapter struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
	limiter    *ratelimit.Limiter
	logger     *zap.Logger
}

// NewAdapter creates a Solana adapter
func NewAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (*Adapter, error) {
	if chainCfg.RPCEndpoint == "" {
		return nil, fmt.Errorf("Solana RPC endpoint cannot be empty")
	}
	logger.Info("Solana adapter initialized", zap.String("endpoint", chainCfg.RPCEndpoint))
	return &Adapter{
		client:     rpc.New(chainCfg.RPCEndpoint),
		commitment: rpc.CommitmentConfirmed,
		limiter:    ratelimit.NewLimiter(chainCfg.RateLimit, chainCfg.RateBurst, string(models.NetworkSolana)),
		logger:     logger,
	}, nil
}

func (a *Adapter) Network() models.NetworkIndex {
	return models.NetworkSolana
}

// DeriveCredential derives m/44'/501'/0'/0'; the private key is the base58 64-byte keypair
func (a *Adapter) DeriveCredential(_ context.Context, mnemonic string) (models.Credential, error) {
	key, err := hdwallet.Ed25519(mnemonic, derivationPath)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	priv := solana.PrivateKey(key)
	return models.Credential{
		Network:    models.NetworkSolana,
		Address:    priv.PublicKey().String(),
		PrivateKey: priv.String(),
	}, nil
}

func (a *Adapter) IsValidAddress(address string) bool {
	_, err := solana.PublicKeyFromBase58(address)
	return err == nil
}

func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return decimal.Zero, chain.Invalid("invalid Solana address %q", address)
	}
	var out *rpc.GetBalanceResult
	err = a.call(ctx, "getBalance", func() (err error) {
		out, err = a.client.GetBalance(ctx, owner, a.commitment)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromUint64(out.Value, models.NetworkSolana.NativeDecimals()), nil
}

// TokenBalance reads the owner's associated token account; a missing account is zero
func (a *Adapter) TokenBalance(ctx context.Context, address, contract string, decimals int32) (decimal.Decimal, error) {
	owner, mint, err := parsePair(address, contract)
	if err != nil {
		return decimal.Zero, err
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return decimal.Zero, chain.Invalid("cannot derive token account: %v", err)
	}

	exists, err := a.accountExists(ctx, ata)
	if err != nil || !exists {
		return decimal.Zero, err
	}

	var out *rpc.GetTokenAccountBalanceResult
	err = a.call(ctx, "getTokenAccountBalance", func() (err error) {
		out, err = a.client.GetTokenAccountBalance(ctx, ata, a.commitment)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	if out.Value == nil {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(out.Value.Amount)
	if err != nil {
		return decimal.Zero, chain.External("getTokenAccountBalance", err)
	}
	return amount.Shift(-decimals), nil
}

// NativeTransfer sends lamports; the balance must also cover the signature fee
func (a *Adapter) NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error) {
	key, dest, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}
	if !amount.IsPositive() {
		return "", chain.Invalid("amount must be positive, got %s", amount)
	}
	balance, err := a.NativeBalance(ctx, from)
	if err != nil {
		return "", err
	}
	fee := chain.FromUint64(LamportsPerSignature, models.NetworkSolana.NativeDecimals())
	if err := chain.CheckBalance(balance, amount.Add(fee)); err != nil {
		return "", err
	}

	lamports := chain.ToBaseUnits(amount, models.NetworkSolana.NativeDecimals()).Uint64()
	ix := system.NewTransferInstruction(lamports, key.PublicKey(), dest).Build()
	return a.signAndSend(ctx, key, ix)
}

// TokenTransfer sends SPL tokens with TransferChecked, creating the destination ATA if missing
func (a *Adapter) TokenTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal, contract string, decimals int32) (string, error) {
	key, dest, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}
	mint, err := solana.PublicKeyFromBase58(contract)
	if err != nil {
		return "", chain.Invalid("invalid mint %q", contract)
	}
	balance, err := a.TokenBalance(ctx, from, contract, decimals)
	if err != nil {
		return "", err
	}
	if err := chain.CheckBalance(balance, amount); err != nil {
		return "", err
	}

	owner := key.PublicKey()
	sourceATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", chain.Invalid("cannot derive token account: %v", err)
	}
	destATA, _, err := solana.FindAssociatedTokenAddress(dest, mint)
	if err != nil {
		return "", chain.Invalid("cannot derive token account: %v", err)
	}
	exists, err := a.accountExists(ctx, destATA)
	if err != nil {
		return "", err
	}

	var instructions []solana.Instruction
	if !exists {
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(owner, dest, mint).Build())
	}
	units := chain.ToBaseUnits(amount, decimals).Uint64()
	instructions = append(instructions,
		token.NewTransferCheckedInstruction(units, uint8(decimals), sourceATA, mint, destATA, owner, nil).Build())

	return a.signAndSend(ctx, key, instructions...)
}

// EstimateFee returns the fixed per-signature fee
func (a *Adapter) EstimateFee(context.Context, chain.FeeKind) (decimal.Decimal, error) {
	return chain.FromUint64(LamportsPerSignature, models.NetworkSolana.NativeDecimals()), nil
}

func (a *Adapter) signAndSend(ctx context.Context, key solana.PrivateKey, instructions ...solana.Instruction) (string, error) {
	var recent *rpc.GetLatestBlockhashResult
	err := a.call(ctx, "getLatestBlockhash", func() (err error) {
		recent, err = a.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		return err
	})
	if err != nil {
		return "", err
	}
	if recent.Value == nil {
		return "", chain.External("getLatestBlockhash", fmt.Errorf("empty blockhash"))
	}

	tx, err := solana.NewTransaction(instructions, recent.Value.Blockhash, solana.TransactionPayer(key.PublicKey()))
	if err != nil {
		return "", fmt.Errorf("failed to build transaction: %w", err)
	}
	_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key.PublicKey()) {
			return &key
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	var sig solana.Signature
	err = a.call(ctx, "sendTransaction", func() (err error) {
		sig, err = a.client.SendTransaction(ctx, tx)
		return err
	})
	if err != nil {
		return "", err
	}

	a.logger.Info("Transaction sent",
		zap.String("network", "SOLANA"),
		zap.String("tx_hash", sig.String()),
		zap.Int("instructions", len(instructions)))
	return sig.String(), nil
}

func (a *Adapter) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	found := false
	err := a.call(ctx, "getAccountInfo", func() error {
		_, err := a.client.GetAccountInfo(ctx, account)
		if errors.Is(err, rpc.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (a *Adapter) senderKey(from, privateKey, to string) (solana.PrivateKey, solana.PublicKey, error) {
	dest, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return nil, solana.PublicKey{}, chain.Invalid("invalid Solana destination %q", to)
	}
	key, err := solana.PrivateKeyFromBase58(privateKey)
	if err != nil {
		return nil, solana.PublicKey{}, chain.Invalid("failed to parse private key: %v", err)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, solana.PublicKey{}, chain.Invalid("private key is %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	if key.PublicKey().String() != from {
		return nil, solana.PublicKey{}, chain.Invalid("private key does not control %s", from)
	}
	return key, dest, nil
}

func (a *Adapter) call(ctx context.Context, method string, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return chain.External(method, err)
	}
	err := fn()
	ratelimit.RecordCall("SOLANA", method, err)
	if err != nil {
		return chain.External(method, err)
	}
	return nil
}

func parsePair(address, contract string) (solana.PublicKey, solana.PublicKey, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, chain.Invalid("invalid Solana address %q", address)
	}
	mint, err := solana.PublicKeyFromBase58(contract)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, chain.Invalid("invalid mint %q", contract)
	}
	return owner, mint, nil
}
