package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/hdwallet"
	"payrail/internal/config"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	coinType = 195

	// AddressVersion prefixes every mainnet TRON address
	AddressVersion byte = 0x41

	// FeeLimitSun caps the energy spent by a TRC-20 transfer
	FeeLimitSun int64 = 15_000_000
)

var (
	nativeFee = decimal.RequireFromString("1.1")
	tokenFee  = decimal.NewFromInt(15)
)

// Adapter implements chain.Adapter for TRON
type Adapter struct {
	client *Client
	logger *zap.Logger
}

// NewAdapter creates a TRON adapter
func NewAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (*Adapter, error) {
	client, err := NewClient(chainCfg.RPCEndpoint, chainCfg.APIKey,
		ratelimit.NewLimiter(chainCfg.RateLimit, chainCfg.RateBurst, string(models.NetworkTron)))
	if err != nil {
		return nil, err
	}
	logger.Info("TRON adapter initialized", zap.String("endpoint", chainCfg.RPCEndpoint))
	return &Adapter{client: client, logger: logger}, nil
}

func (a *Adapter) Network() models.NetworkIndex {
	return models.NetworkTron
}

// DeriveCredential derives m/44'/195'/0'/0/0
func (a *Adapter) DeriveCredential(_ context.Context, mnemonic string) (models.Credential, error) {
	key, err := hdwallet.Secp256k1(mnemonic, coinType)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	return models.Credential{
		Network:    models.NetworkTron,
		Address:    AddressFromKey(&key.PublicKey),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

func (a *Adapter) IsValidAddress(address string) bool {
	_, err := DecodeAddress(address)
	return err == nil
}

func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !a.IsValidAddress(address) {
		return decimal.Zero, chain.Invalid("invalid TRON address %q", address)
	}
	sun, err := a.client.GetAccount(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnits(big.NewInt(sun), models.NetworkTron.NativeDecimals()), nil
}

func (a *Adapter) TokenBalance(ctx context.Context, address, contract string, decimals int32) (decimal.Decimal, error) {
	param, err := addressParam(address)
	if err != nil {
		return decimal.Zero, err
	}
	if !a.IsValidAddress(contract) {
		return decimal.Zero, chain.Invalid("invalid TRC-20 contract %q", contract)
	}

	result, err := a.client.TriggerConstant(ctx, address, contract, "balanceOf(address)", param)
	if err != nil {
		return decimal.Zero, err
	}
	if result == "" {
		return decimal.Zero, nil
	}
	raw, err := hex.DecodeString(result)
	if err != nil {
		return decimal.Zero, chain.External("balanceOf", fmt.Errorf("invalid constant result: %w", err))
	}
	return chain.FromBaseUnits(new(big.Int).SetBytes(raw), decimals), nil
}

func (a *Adapter) NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error) {
	key, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}
	sun := chain.ToBaseUnits(amount, models.NetworkTron.NativeDecimals())
	if !sun.IsInt64() {
		return "", chain.Invalid("amount %s is out of range", amount)
	}
	balance, err := a.NativeBalance(ctx, from)
	if err != nil {
		return "", err
	}
	if err := chain.CheckBalance(balance, amount); err != nil {
		return "", err
	}

	tx, err := a.client.CreateTransaction(ctx, from, to, sun.Int64())
	if err != nil {
		return "", err
	}
	return a.signAndBroadcast(ctx, key, tx)
}

func (a *Adapter) TokenTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal, contract string, decimals int32) (string, error) {
	key, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}
	balance, err := a.TokenBalance(ctx, from, contract, decimals)
	if err != nil {
		return "", err
	}
	if err := chain.CheckBalance(balance, amount); err != nil {
		return "", err
	}

	toParam, err := addressParam(to)
	if err != nil {
		return "", err
	}
	amountParam := hex.EncodeToString(common.LeftPadBytes(chain.ToBaseUnits(amount, decimals).Bytes(), 32))

	tx, err := a.client.TriggerSmartContract(ctx, from, contract, "transfer(address,uint256)", toParam+amountParam, FeeLimitSun)
	if err != nil {
		return "", err
	}
	return a.signAndBroadcast(ctx, key, tx)
}

// EstimateFee returns the protocol constants for bandwidth and the energy cap
func (a *Adapter) EstimateFee(_ context.Context, kind chain.FeeKind) (decimal.Decimal, error) {
	if kind == chain.FeeToken {
		return tokenFee, nil
	}
	return nativeFee, nil
}

func (a *Adapter) senderKey(from, privateKey, to string) (*ecdsa.PrivateKey, error) {
	if !a.IsValidAddress(to) {
		return nil, chain.Invalid("invalid TRON destination %q", to)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return nil, chain.Invalid("failed to parse private key: %v", err)
	}
	if AddressFromKey(&key.PublicKey) != from {
		return nil, chain.Invalid("private key does not control %s", from)
	}
	return key, nil
}

// signAndBroadcast checks the node-built txID against raw_data_hex before signing it
func (a *Adapter) signAndBroadcast(ctx context.Context, key *ecdsa.PrivateKey, tx *Transaction) (string, error) {
	raw, err := hex.DecodeString(tx.RawDataHex)
	if err != nil {
		return "", chain.External("sign", fmt.Errorf("invalid raw_data_hex: %w", err))
	}
	digest := sha256.Sum256(raw)
	if hex.EncodeToString(digest[:]) != strings.ToLower(tx.TxID) {
		return "", chain.External("sign", fmt.Errorf("txID does not match raw_data_hex"))
	}

	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = []string{hex.EncodeToString(sig)}

	txID, err := a.client.Broadcast(ctx, tx)
	if err != nil {
		return "", err
	}
	a.logger.Info("Transaction sent", zap.String("network", "TRON"), zap.String("tx_hash", txID))
	return txID, nil
}

// AddressFromKey returns the base58check address of a public key
func AddressFromKey(pub *ecdsa.PublicKey) string {
	evmAddr := crypto.PubkeyToAddress(*pub)
	return base58.CheckEncode(evmAddr.Bytes(), AddressVersion)
}

// DecodeAddress returns the 20-byte account id of a base58check address
func DecodeAddress(address string) ([]byte, error) {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid TRON address: %w", err)
	}
	if version != AddressVersion || len(payload) != common.AddressLength {
		return nil, fmt.Errorf("invalid TRON address %q", address)
	}
	return payload, nil
}

// addressParam ABI-encodes an address argument without the 0x41 prefix
func addressParam(address string) (string, error) {
	payload, err := DecodeAddress(address)
	if err != nil {
		return "", chain.Invalid("%v", err)
	}
	return hex.EncodeToString(common.LeftPadBytes(payload, 32)), nil
}

// decodeMessage returns the text of a hex-encoded node message
func decodeMessage(msg string) string {
	if b, err := hex.DecodeString(msg); err == nil {
		return string(b)
	}
	return msg
}
