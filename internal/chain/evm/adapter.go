package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/hdwallet"
	"payrail/internal/config"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	coinType = 60

	NativeGasLimit uint64 = 21000
	TokenGasLimit  uint64 = 65000
)

// Adapter implements chain.Adapter for ETHEREUM, BSC and ARBITRUM
type Adapter struct {
	network   models.NetworkIndex
	ethClient *ethclient.Client
	chainID   *big.Int
	limiter   *ratelimit.Limiter
	logger    *zap.Logger
}

// NewAdapter creates an EVM adapter for the configured network
func NewAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (*Adapter, error) {
	if chainCfg.Network.Kind() != models.ChainKindEVM {
		return nil, fmt.Errorf("%s is not an EVM network", chainCfg.Network)
	}

	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", chainCfg.RPCEndpoint, err)
	}

	logger.Info("EVM adapter initialized",
		zap.String("network", string(chainCfg.Network)),
		zap.Int64("chain_id", chainCfg.ChainID))

	return &Adapter{
		network:   chainCfg.Network,
		ethClient: ethClient,
		chainID:   big.NewInt(chainCfg.ChainID),
		limiter:   ratelimit.NewLimiter(chainCfg.RateLimit, chainCfg.RateBurst, string(chainCfg.Network)),
		logger:    logger,
	}, nil
}

// Close closes the underlying RPC connection
func (a *Adapter) Close() {
	a.ethClient.Close()
}

// Network returns the network this adapter serves
func (a *Adapter) Network() models.NetworkIndex {
	return a.network
}

// DeriveCredential derives m/44'/60'/0'/0/0
func (a *Adapter) DeriveCredential(_ context.Context, mnemonic string) (models.Credential, error) {
	key, err := hdwallet.Secp256k1(mnemonic, coinType)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	return models.Credential{
		Network:    a.network,
		Address:    crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PrivateKey: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// IsValidAddress accepts 0x-prefixed hex addresses; mixed-case input must carry a valid EIP-55 checksum
func (a *Adapter) IsValidAddress(address string) bool {
	return IsValidAddress(address)
}

// IsValidAddress is the stateless form of Adapter.IsValidAddress
func IsValidAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return false
	}
	body := address[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return common.HexToAddress(address).Hex() == address
}

// NativeBalance returns the balance in ether units
func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !IsValidAddress(address) {
		return decimal.Zero, chain.Invalid("invalid %s address %q", a.network, address)
	}
	var wei *big.Int
	err := a.call(ctx, "eth_getBalance", func() (err error) {
		wei, err = a.ethClient.BalanceAt(ctx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromBaseUnits(wei, a.network.NativeDecimals()), nil
}

// TokenBalance returns the ERC-20 balance of address
func (a *Adapter) TokenBalance(ctx context.Context, address, contract string, decimals int32) (decimal.Decimal, error) {
	if !IsValidAddress(address) || !IsValidAddress(contract) {
		return decimal.Zero, chain.Invalid("invalid %s address or contract", a.network)
	}
	data, err := PackBalanceOf(common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	token := common.HexToAddress(contract)
	var result []byte
	err = a.call(ctx, "eth_call", func() (err error) {
		result, err = a.ethClient.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	balance, err := UnpackUint256("balanceOf", result)
	if err != nil {
		return decimal.Zero, chain.External("balanceOf", err)
	}
	return chain.FromBaseUnits(balance, decimals), nil
}

// NativeTransfer sends amount of the native coin. The balance must cover amount plus gas.
func (a *Adapter) NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error) {
	key, err := a.senderKey(from, privateKey, to)
	if err != nil {
		return "", err
	}

	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return "", err
	}
	balance, err := a.NativeBalance(ctx, from)
	if err != nil {
		return "", err
	}
	fee := feeOf(gasPrice, NativeGasLimit, a.network.NativeDecimals())
	if !amount.IsPositive() {
		return "", chain.Invalid("amount must be positive, got %s", amount)
	}
	if err := chain.CheckBalance(balance, amount.Add(fee)); err != nil {
		return "", err
	}

	value := chain.ToBaseUnits(amount, a.network.NativeDecimals())
	hash, err := a.signAndSend(ctx, key, common.HexToAddress(to), nil, value, NativeGasLimit, gasPrice)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// TokenTransfer sends an ERC-20 transfer
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

	data, err := PackTransfer(common.HexToAddress(to), chain.ToBaseUnits(amount, decimals))
	if err != nil {
		return "", fmt.Errorf("failed to pack transfer: %w", err)
	}
	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return "", err
	}

	token := common.HexToAddress(contract)
	gasLimit := TokenGasLimit
	err = a.call(ctx, "eth_estimateGas", func() error {
		estimated, err := a.ethClient.EstimateGas(ctx, ethereum.CallMsg{
			From: crypto.PubkeyToAddress(key.PublicKey),
			To:   &token,
			Data: data,
		})
		if err != nil {
			return err
		}
		// Add 20% buffer
		gasLimit = estimated * 120 / 100
		return nil
	})
	if err != nil {
		a.logger.Warn("Gas estimation failed, using default limit",
			zap.String("network", string(a.network)),
			zap.Uint64("gas_limit", TokenGasLimit),
			zap.Error(err))
		gasLimit = TokenGasLimit
	}

	hash, err := a.signAndSend(ctx, key, token, data, big.NewInt(0), gasLimit, gasPrice)
	if err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

// EstimateFee returns suggested gas price times the fixed gas limit for kind
func (a *Adapter) EstimateFee(ctx context.Context, kind chain.FeeKind) (decimal.Decimal, error) {
	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	limit := NativeGasLimit
	if kind == chain.FeeToken {
		limit = TokenGasLimit
	}
	return feeOf(gasPrice, limit, a.network.NativeDecimals()), nil
}

func (a *Adapter) gasPrice(ctx context.Context) (*big.Int, error) {
	var gasPrice *big.Int
	err := a.call(ctx, "eth_gasPrice", func() (err error) {
		gasPrice, err = a.ethClient.SuggestGasPrice(ctx)
		return err
	})
	return gasPrice, err
}

// senderKey parses the key and checks it controls from
func (a *Adapter) senderKey(from, privateKey, to string) (*ecdsa.PrivateKey, error) {
	if !IsValidAddress(to) {
		return nil, chain.Invalid("invalid %s destination %q", a.network, to)
	}
	key, err := ParsePrivateKey(privateKey)
	if err != nil {
		return nil, chain.Invalid("failed to parse private key: %v", err)
	}
	if !strings.EqualFold(crypto.PubkeyToAddress(key.PublicKey).Hex(), from) {
		return nil, chain.Invalid("private key does not control %s", from)
	}
	return key, nil
}

// signAndSend creates, signs, and sends a legacy EIP-155 transaction
func (a *Adapter) signAndSend(
	ctx context.Context,
	key *ecdsa.PrivateKey,
	to common.Address,
	data []byte,
	value *big.Int,
	gasLimit uint64,
	gasPrice *big.Int,
) (common.Hash, error) {
	fromAddress := crypto.PubkeyToAddress(key.PublicKey)

	var nonce uint64
	err := a.call(ctx, "eth_getTransactionCount", func() (err error) {
		nonce, err = a.ethClient.PendingNonceAt(ctx, fromAddress)
		return err
	})
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(a.chainID), key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	err = a.call(ctx, "eth_sendRawTransaction", func() error {
		return a.ethClient.SendTransaction(ctx, signedTx)
	})
	if err != nil {
		return common.Hash{}, err
	}

	a.logger.Info("Transaction sent",
		zap.String("network", string(a.network)),
		zap.String("tx_hash", signedTx.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas_limit", gasLimit))

	return signedTx.Hash(), nil
}

// call runs one rate-limited RPC call and maps failures to ErrExternalService
func (a *Adapter) call(ctx context.Context, method string, fn func() error) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return chain.External(method, err)
	}
	err := fn()
	ratelimit.RecordCall(string(a.network), method, err)
	if err != nil {
		return chain.External(method, err)
	}
	return nil
}

// ParsePrivateKey parses a hex secp256k1 key with or without 0x prefix
func ParsePrivateKey(privateKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
}

func feeOf(gasPrice *big.Int, gasLimit uint64, decimals int32) decimal.Decimal {
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	return chain.FromBaseUnits(wei, decimals)
}
