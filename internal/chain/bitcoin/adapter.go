package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"math"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/chain/hdwallet"
	"payrail/internal/config"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	// DustLimit is the smallest P2WPKH output relayed by default policy
	DustLimit int64 = 546

	feeTarget = 6
)

// Adapter implements chain.Adapter for Bitcoin with BIP-84 P2WPKH accounts
type Adapter struct {
	params  *chaincfg.Params
	esplora *EsploraClient
	logger  *zap.Logger
}

// NewAdapter creates a Bitcoin adapter backed by Esplora
func NewAdapter(chainCfg *config.ChainConfig, logger *zap.Logger) (*Adapter, error) {
	params, err := ParamsByName(chainCfg.Params)
	if err != nil {
		return nil, err
	}
	esplora, err := NewEsploraClient(chainCfg.RPCEndpoint,
		ratelimit.NewLimiter(chainCfg.RateLimit, chainCfg.RateBurst, string(models.NetworkBitcoin)))
	if err != nil {
		return nil, err
	}
	logger.Info("Bitcoin adapter initialized",
		zap.String("params", params.Name),
		zap.String("endpoint", chainCfg.RPCEndpoint))
	return &Adapter{params: params, esplora: esplora, logger: logger}, nil
}

// ParamsByName maps a config name to chain parameters
func ParamsByName(name string) (*chaincfg.Params, error) {
	switch name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin params %q", name)
	}
}

func (a *Adapter) Network() models.NetworkIndex {
	return models.NetworkBitcoin
}

// DeriveCredential derives m/84'/coin'/0'/0/0. The private key is returned as WIF.
func (a *Adapter) DeriveCredential(_ context.Context, mnemonic string) (models.Credential, error) {
	seed, err := hdwallet.Seed(mnemonic)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	master, err := hdkeychain.NewMaster(seed, a.params)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}

	key := master
	for _, idx := range []uint32{
		hdkeychain.HardenedKeyStart + 84,
		hdkeychain.HardenedKeyStart + a.params.HDCoinType,
		hdkeychain.HardenedKeyStart + 0,
		0,
		0,
	} {
		key, err = key.Derive(idx)
		if err != nil {
			return models.Credential{}, chain.Derivation(err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	addr, err := a.p2wpkh(priv.PubKey())
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}
	wif, err := btcutil.NewWIF(priv, a.params, true)
	if err != nil {
		return models.Credential{}, chain.Derivation(err)
	}

	return models.Credential{
		Network:    models.NetworkBitcoin,
		Address:    addr.EncodeAddress(),
		PrivateKey: wif.String(),
	}, nil
}

// IsValidAddress accepts any standard address type of the configured network
func (a *Adapter) IsValidAddress(address string) bool {
	addr, err := btcutil.DecodeAddress(address, a.params)
	if err != nil {
		return false
	}
	return addr.IsForNet(a.params)
}

func (a *Adapter) NativeBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !a.IsValidAddress(address) {
		return decimal.Zero, chain.Invalid("invalid bitcoin address %q", address)
	}
	sats, err := a.esplora.Balance(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return chain.FromUint64(uint64(max(sats, 0)), models.NetworkBitcoin.NativeDecimals()), nil
}

func (a *Adapter) TokenBalance(context.Context, string, string, int32) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("bitcoin token balance: %w", chain.ErrUnsupportedOperation)
}

func (a *Adapter) TokenTransfer(context.Context, string, string, string, decimal.Decimal, string, int32) (string, error) {
	return "", fmt.Errorf("bitcoin token transfer: %w", chain.ErrUnsupportedOperation)
}

// NativeTransfer spends P2WPKH outputs of from, largest first, with change back to from
func (a *Adapter) NativeTransfer(ctx context.Context, from, privateKey, to string, amount decimal.Decimal) (string, error) {
	if !a.IsValidAddress(to) {
		return "", chain.Invalid("invalid bitcoin destination %q", to)
	}
	if !amount.IsPositive() {
		return "", chain.Invalid("amount must be positive, got %s", amount)
	}
	wif, err := btcutil.DecodeWIF(privateKey)
	if err != nil || !wif.IsForNet(a.params) {
		return "", chain.Invalid("invalid WIF private key")
	}
	fromAddr, err := a.p2wpkh(wif.PrivKey.PubKey())
	if err != nil {
		return "", err
	}
	if fromAddr.EncodeAddress() != from {
		return "", chain.Invalid("private key does not control %s", from)
	}
	toAddr, err := btcutil.DecodeAddress(to, a.params)
	if err != nil {
		return "", chain.Invalid("invalid bitcoin destination %q", to)
	}

	base := chain.ToBaseUnits(amount, models.NetworkBitcoin.NativeDecimals())
	if !base.IsInt64() {
		return "", chain.Invalid("amount %s is out of range", amount)
	}
	sats := base.Int64()
	if sats < DustLimit {
		return "", chain.Invalid("amount %s is below the dust limit", amount)
	}

	utxos, err := a.esplora.UTXOs(ctx, from)
	if err != nil {
		return "", err
	}
	feeRate, err := a.esplora.FeeRate(ctx, feeTarget)
	if err != nil {
		return "", err
	}

	selected, total, fee, err := SelectCoins(utxos, sats, feeRate)
	if err != nil {
		return "", err
	}

	tx, err := a.buildAndSign(selected, fromAddr, toAddr, sats, total-sats-fee, wif.PrivKey)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", fmt.Errorf("failed to serialize transaction: %w", err)
	}
	txid, err := a.esplora.Broadcast(ctx, hex.EncodeToString(buf.Bytes()))
	if err != nil {
		return "", err
	}
	if txid == "" {
		txid = tx.TxHash().String()
	}

	a.logger.Info("Transaction sent",
		zap.String("network", "BITCOIN"),
		zap.String("tx_hash", txid),
		zap.Int("inputs", len(selected)),
		zap.Int64("fee_sats", fee))
	return txid, nil
}

// EstimateFee prices a one-input, two-output P2WPKH spend at the current fee rate
func (a *Adapter) EstimateFee(ctx context.Context, kind chain.FeeKind) (decimal.Decimal, error) {
	if kind == chain.FeeToken {
		return decimal.Zero, fmt.Errorf("bitcoin token fee: %w", chain.ErrUnsupportedOperation)
	}
	rate, err := a.esplora.FeeRate(ctx, feeTarget)
	if err != nil {
		return decimal.Zero, err
	}
	sats := feeFor(1, 2, rate)
	return chain.FromUint64(uint64(sats), models.NetworkBitcoin.NativeDecimals()), nil
}

func (a *Adapter) p2wpkh(pub *btcec.PublicKey) (*btcutil.AddressWitnessPubKeyHash, error) {
	return btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), a.params)
}

func (a *Adapter) buildAndSign(
	inputs []UTXO,
	fromAddr btcutil.Address,
	toAddr btcutil.Address,
	amount, change int64,
	key *btcec.PrivateKey,
) (*wire.MsgTx, error) {
	fromScript, err := txscript.PayToAddrScript(fromAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to build source script: %w", err)
	}
	toScript, err := txscript.PayToAddrScript(toAddr)
	if err != nil {
		return nil, chain.Invalid("unsupported destination script: %v", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	fetcher := txscript.NewMultiPrevOutFetcher(make(map[wire.OutPoint]*wire.TxOut))
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, chain.External("utxo", fmt.Errorf("invalid txid %q: %w", in.TxID, err))
		}
		outpoint := wire.NewOutPoint(hash, in.Vout)
		tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))
		fetcher.AddPrevOut(*outpoint, wire.NewTxOut(in.Value, fromScript))
	}

	tx.AddTxOut(wire.NewTxOut(amount, toScript))
	if change >= DustLimit {
		tx.AddTxOut(wire.NewTxOut(change, fromScript))
	}

	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, in := range inputs {
		witness, err := txscript.WitnessSignature(tx, sigHashes, i, in.Value, fromScript, txscript.SigHashAll, key, true)
		if err != nil {
			return nil, fmt.Errorf("failed to sign input %d: %w", i, err)
		}
		tx.TxIn[i].Witness = witness
	}
	return tx, nil
}

// SelectCoins picks outputs largest first until they cover amount plus fee.
// It returns the selection, its total value and the fee in satoshis.
func SelectCoins(utxos []UTXO, amount int64, feeRate float64) ([]UTXO, int64, int64, error) {
	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	var (
		selected []UTXO
		total    int64
		balance  int64
	)
	for _, u := range sorted {
		balance += u.Value
	}

	for _, u := range sorted {
		selected = append(selected, u)
		total += u.Value
		fee := feeFor(len(selected), 2, feeRate)
		if total >= amount+fee {
			return selected, total, fee, nil
		}
	}

	need := amount + feeFor(max(len(sorted), 1), 2, feeRate)
	return nil, 0, 0, chain.Insufficient(
		chain.FromUint64(uint64(balance), 8),
		chain.FromUint64(uint64(need), 8),
	)
}

// feeFor estimates the fee of a P2WPKH transaction from its virtual size
func feeFor(inputs, outputs int, rate float64) int64 {
	vsize := 11 + 68*inputs + 31*outputs
	return int64(math.Ceil(float64(vsize) * rate))
}
