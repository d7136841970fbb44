package near

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/hdwallet"
	"payrail/internal/config"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	derivationPath = "m/44'/397'/0'"

	// NativeTransferGas is the gas burnt by a plain transfer (0.45 Tgas)
	NativeTransferGas uint64 = 450_000_000_000
	// TokenTransferGas is attached to ft_transfer (30 Tgas)
	TokenTransferGas uint64 = 30_000_000_000_000
)

var (
	accountIDPattern = regexp.MustCompile(`^(([a-z\d]+[\-_])*[a-z\d]+\.)*([a-z\d]+[\-_])*[a-z\d]+$`)
	implicitPattern  = regexp.MustCompile(`^[0-9a-f]{64}$`)

	oneYocto = big.NewInt(1)
	// storage_deposit for a fungible token registration, 0.00125 NEAR
	storageDeposit, _ = new(big.Int).SetString("1250000000000000000000", 10)
)

// Adapter implements chain.Adapter for NEAR implicit accounts
type Adapter struct {
	rpc    *RPCClient
	logger *zap.Logger
}

// NewAdapter creates a NEAR adapter
func NewAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (*Adapter, error) {
	rpc, err := NewRPCClient(chainCfg.RPCEndpoint,
		ratelimit.NewLimiter(chainCfg.RateLimit, chainCfg.RateBurst, string(models.NetworkNear)))
	if err != nil {
		return nil, err
	}
	logger.Info("NEAR adapter initialized", zap.String("endpoint", chainCfg.RPCEndpoint))
	return &Adapter{rpc: rpc, logger: logger}, nil
}

func (a *Adapter) Network() models.NetworkIndex {
	return models.NetworkNear
}

// DeriveCredential derives m/44'/397'/0'. The account id is the implicit hex public key.
func (a *Adapter) DeriveCredential(_ context.Context, mnemonic string) (models.Credential, error) {
	key, err := hdwallet.Ed25519(mnemonic, derivationPath)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	return models.Credential{
		Network:    models.NetworkNear,
		Address:    hex.EncodeToString(key.Public().(ed25519.PublicKey)),
		PrivateKey: EncodePrivateKey(key),
	}, nil
}

// IsValidAddress accepts named and implicit account ids
func (a *Adapter) IsValidAddress(address string) bool {
	if len(address) < 2 || len(address) > 64 {
		return false
	}
	return accountIDPattern.MatchString(address)
}

type viewAccountResult struct {
	Amount string `json:"amount"`
	Locked string `json:"locked"`
}

type callFunctionResult struct {
	Result []int    `json:"result"`
	Logs   []string `json:"logs"`
}

type accessKeyResult struct {
	Nonce     uint64 `json:"nonce"`
	BlockHash string `json:"block_hash"`
}

type gasPriceResult struct {
	GasPrice string `json:"gas_price"`
}

type txOutcome struct {
	Status      map[string]json.RawMessage `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
}

func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !a.IsValidAddress(address) {
		return decimal.Zero, chain.Invalid("invalid NEAR account %q", address)
	}
	var res viewAccountResult
	err := a.rpc.Call(ctx, "query", map[string]interface{}{
		"request_type": "view_account",
		"finality":     "final",
		"account_id":   address,
	}, &res)
	if IsUnknownAccount(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	yocto, err := decimal.NewFromString(res.Amount)
	if err != nil {
		return decimal.Zero, chain.External("view_account", err)
	}
	return yocto.Shift(-models.NetworkNear.NativeDecimals()), nil
}

func (a *Adapter) TokenBalance(ctx context.Context, address, contract string, decimals int32) (decimal.Decimal, error) {
	if !a.IsValidAddress(address) || !a.IsValidAddress(contract) {
		return decimal.Zero, chain.Invalid("invalid NEAR account or contract")
	}
	var units string
	if err := a.viewFunction(ctx, contract, "ft_balance_of", map[string]string{"account_id": address}, &units); err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(units)
	if err != nil {
		return decimal.Zero, chain.External("ft_balance_of", err)
	}
	return amount.Shift(-decimals), nil
}

func (a *Adapter) NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error) {
	key, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}
	balance, err := a.NativeBalance(ctx, from)
	if err != nil {
		return "", err
	}
	if err := chain.CheckBalance(balance, amount); err != nil {
		return "", err
	}

	deposit := chain.ToBaseUnits(amount, models.NetworkNear.NativeDecimals())
	return a.signAndBroadcast(ctx, from, key, to, TransferAction(deposit))
}

// TokenTransfer calls ft_transfer, registering the receiver first when it has no storage balance
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

	var actions []Action

	var storage json.RawMessage
	if err := a.viewFunction(ctx, contract, "storage_balance_of", map[string]string{"account_id": to}, &storage); err != nil {
		return "", err
	}
	if len(storage) == 0 || string(storage) == "null" {
		args, _ := json.Marshal(map[string]interface{}{"account_id": to, "registration_only": true})
		actions = append(actions, FunctionCallAction("storage_deposit", args, TokenTransferGas, storageDeposit))
	}

	args, _ := json.Marshal(map[string]string{
		"receiver_id": to,
		"amount":      chain.ToBaseUnits(amount, decimals).String(),
	})
	actions = append(actions, FunctionCallAction("ft_transfer", args, TokenTransferGas, oneYocto))

	return a.signAndBroadcast(ctx, from, key, contract, actions...)
}

// EstimateFee multiplies the current gas price by the fixed gas of the transfer kind
func (a *Adapter) EstimateFee(ctx context.Context, kind chain.FeeKind) (decimal.Decimal, error) {
	var res gasPriceResult
	if err := a.rpc.Call(ctx, "gas_price", []interface{}{nil}, &res); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(res.GasPrice)
	if err != nil {
		return decimal.Zero, chain.External("gas_price", err)
	}
	gas := NativeTransferGas
	if kind == chain.FeeToken {
		gas = TokenTransferGas
	}
	yocto := price.Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(gas), 0))
	return yocto.Shift(-models.NetworkNear.NativeDecimals()), nil
}

// viewFunction runs a call_function query and decodes its JSON return value
func (a *Adapter) viewFunction(ctx context.Context, contract, method string, args interface{}, out interface{}) error {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	var res callFunctionResult
	err = a.rpc.Call(ctx, "query", map[string]interface{}{
		"request_type": "call_function",
		"finality":     "final",
		"account_id":   contract,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(rawArgs),
	}, &res)
	if err != nil {
		return err
	}
	raw := make([]byte, len(res.Result))
	for i, b := range res.Result {
		raw[i] = byte(b)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return chain.External(method, fmt.Errorf("invalid return value: %w", err))
	}
	return nil
}

func (a *Adapter) senderKey(from, privateKey, to string) (ed25519.PrivateKey, error) {
	if !a.IsValidAddress(to) {
		return nil, chain.Invalid("invalid NEAR destination %q", to)
	}
	key, err := DecodePrivateKey(privateKey)
	if err != nil {
		return nil, chain.Invalid("failed to parse private key: %v", err)
	}
	if !a.IsValidAddress(from) {
		return nil, chain.Invalid("invalid NEAR account %q", from)
	}
	if implicitPattern.MatchString(from) && hex.EncodeToString(key.Public().(ed25519.PublicKey)) != from {
		return nil, chain.Invalid("private key does not control %s", from)
	}
	return key, nil
}

func (a *Adapter) signAndBroadcast(ctx context.Context, signer string, key ed25519.PrivateKey, receiver string, actions ...Action) (string, error) {
	pub := key.Public().(ed25519.PublicKey)

	var access accessKeyResult
	err := a.rpc.Call(ctx, "query", map[string]interface{}{
		"request_type": "view_access_key",
		"finality":     "final",
		"account_id":   signer,
		"public_key":   EncodePublicKey(pub),
	}, &access)
	if err != nil {
		return "", err
	}
	blockHash, err := DecodeHash(access.BlockHash)
	if err != nil {
		return "", chain.External("view_access_key", err)
	}

	tx := Transaction{
		SignerID:   signer,
		PublicKey:  borshPublicKey(pub),
		Nonce:      access.Nonce + 1,
		ReceiverID: receiver,
		BlockHash:  blockHash,
		Actions:    actions,
	}
	signed, hash, err := Sign(tx, key)
	if err != nil {
		return "", err
	}

	var outcome txOutcome
	err = a.rpc.Call(ctx, "broadcast_tx_commit", []string{base64.StdEncoding.EncodeToString(signed)}, &outcome)
	if err != nil {
		return "", err
	}
	if failure, failed := outcome.Status["Failure"]; failed {
		return "", chain.External("broadcast_tx_commit", fmt.Errorf("transaction %s failed: %s", hash, string(failure)))
	}
	if outcome.Transaction.Hash != "" {
		hash = outcome.Transaction.Hash
	}

	a.logger.Info("Transaction sent",
		zap.String("network", "NEAR"),
		zap.String("tx_hash", hash),
		zap.String("receiver", receiver),
		zap.Int("actions", len(actions)))
	return hash, nil
}
