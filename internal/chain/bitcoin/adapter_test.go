package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
)

const (
	testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	bip84Address = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
)

type fakeEsplora struct {
	utxos     []UTXO
	broadcast []string
}

func (f *fakeEsplora) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/tx":
		body, _ := io.ReadAll(r.Body)
		f.broadcast = append(f.broadcast, string(body))
		raw, _ := hex.DecodeString(string(body))
		tx := wire.NewMsgTx(wire.TxVersion)
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(tx.TxHash().String()))
	case r.URL.Path == "/fee-estimates":
		_, _ = w.Write([]byte(`{"1": 20.5, "6": 10, "144": 1.2}`))
	case strings.HasSuffix(r.URL.Path, "/utxo"):
		_ = json.NewEncoder(w).Encode(f.utxos)
	case strings.HasPrefix(r.URL.Path, "/address/"):
		var funded int64
		for _, u := range f.utxos {
			funded += u.Value
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"address":       strings.TrimPrefix(r.URL.Path, "/address/"),
			"chain_stats":   map[string]int64{"funded_txo_sum": funded + 5000, "spent_txo_sum": 5000},
			"mempool_stats": map[string]int64{"funded_txo_sum": 0, "spent_txo_sum": 0},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestAdapter(t *testing.T, esplora *fakeEsplora) *Adapter {
	t.Helper()
	server := httptest.NewServer(esplora)
	t.Cleanup(server.Close)
	a, err := NewAdapter(&config.ChainConfig{RPCEndpoint: server.URL, Params: "mainnet"}, zap.NewNop())
	require.NoError(t, err)
	return a
}

func utxo(txid string, vout uint32, value int64) UTXO {
	return UTXO{TxID: txid, Vout: vout, Value: value}
}

func TestDeriveCredential_BIP84Vector(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{})

	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, bip84Address, cred.Address)

	wif, err := btcutil.DecodeWIF(cred.PrivateKey)
	require.NoError(t, err)
	assert.True(t, wif.CompressPubKey)

	_, err = a.DeriveCredential(context.Background(), "abandon")
	assert.ErrorIs(t, err, chain.ErrDerivation)
}

func TestIsValidAddress(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{})

	assert.True(t, a.IsValidAddress(bip84Address))
	assert.True(t, a.IsValidAddress("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"))
	assert.True(t, a.IsValidAddress("3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy"))
	assert.False(t, a.IsValidAddress("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyv"))
	assert.False(t, a.IsValidAddress("tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"))
	assert.False(t, a.IsValidAddress("not-an-address"))
}

func TestTokenOperationsUnsupported(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{})

	_, err := a.TokenBalance(context.Background(), bip84Address, "x", 8)
	assert.ErrorIs(t, err, chain.ErrUnsupportedOperation)
	_, err = a.TokenTransfer(context.Background(), bip84Address, "k", bip84Address, decimal.NewFromInt(1), "x", 8)
	assert.ErrorIs(t, err, chain.ErrUnsupportedOperation)
	_, err = a.EstimateFee(context.Background(), chain.FeeToken)
	assert.ErrorIs(t, err, chain.ErrUnsupportedOperation)
}

func TestNativeBalanceAndFee(t *testing.T) {
	a := newTestAdapter(t, &fakeEsplora{utxos: []UTXO{utxo(strings.Repeat("a", 64), 0, 150_000_000)}})

	bal, err := a.NativeBalance(context.Background(), bip84Address)
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.String())

	fee, err := a.EstimateFee(context.Background(), chain.FeeNative)
	require.NoError(t, err)
	// (11 + 68 + 62) vB * 10 sat/vB
	assert.Equal(t, "0.0000141", fee.String())
}

func TestSelectCoins(t *testing.T) {
	utxos := []UTXO{
		utxo(strings.Repeat("1", 64), 0, 10_000),
		utxo(strings.Repeat("2", 64), 1, 50_000),
		utxo(strings.Repeat("3", 64), 0, 30_000),
	}

	selected, total, fee, err := SelectCoins(utxos, 40_000, 10)
	require.NoError(t, err)
	require.Len(t, selected, 1)
	assert.Equal(t, int64(50_000), total)
	assert.Equal(t, int64(1410), fee)

	selected, total, _, err = SelectCoins(utxos, 60_000, 10)
	require.NoError(t, err)
	assert.Len(t, selected, 2)
	assert.Equal(t, int64(80_000), total)

	_, _, _, err = SelectCoins(utxos, 90_000, 10)
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)
}

func TestNativeTransfer_SignsValidWitness(t *testing.T) {
	esplora := &fakeEsplora{utxos: []UTXO{
		utxo(strings.Repeat("ab", 32), 1, 70_000),
		utxo(strings.Repeat("cd", 32), 0, 40_000),
	}}
	a := newTestAdapter(t, esplora)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)

	to := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"
	txid, err := a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.RequireFromString("0.001"))
	require.NoError(t, err)
	require.Len(t, esplora.broadcast, 1)

	raw, err := hex.DecodeString(esplora.broadcast[0])
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))
	assert.Equal(t, tx.TxHash().String(), txid)

	require.Len(t, tx.TxIn, 2)
	require.Len(t, tx.TxOut, 2)
	assert.Equal(t, int64(100_000), tx.TxOut[0].Value)

	fromAddr, err := btcutil.DecodeAddress(cred.Address, &chaincfg.MainNetParams)
	require.NoError(t, err)
	fromScript, err := txscript.PayToAddrScript(fromAddr)
	require.NoError(t, err)
	assert.Equal(t, fromScript, tx.TxOut[1].PkScript)

	fetcher := txscript.NewMultiPrevOutFetcher(map[wire.OutPoint]*wire.TxOut{
		tx.TxIn[0].PreviousOutPoint: wire.NewTxOut(70_000, fromScript),
		tx.TxIn[1].PreviousOutPoint: wire.NewTxOut(40_000, fromScript),
	})
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	for i, value := range []int64{70_000, 40_000} {
		vm, err := txscript.NewEngine(fromScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, value, fetcher)
		require.NoError(t, err)
		assert.NoError(t, vm.Execute(), "input %d", i)
	}
}

func TestNativeTransfer_Preflight(t *testing.T) {
	esplora := &fakeEsplora{utxos: []UTXO{utxo(strings.Repeat("ab", 32), 0, 5_000)}}
	a := newTestAdapter(t, esplora)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	to := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

	_, err = a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.RequireFromString("0.001"))
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)

	_, err = a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.RequireFromString("0.000001"))
	assert.ErrorIs(t, err, chain.ErrValidation)

	_, err = a.NativeTransfer(context.Background(), to, cred.PrivateKey, cred.Address, decimal.RequireFromString("0.001"))
	assert.ErrorIs(t, err, chain.ErrValidation)

	// 1e11 BTC is 1e19 satoshis, past the int64 range
	_, err = a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.RequireFromString("100000000000"))
	assert.ErrorIs(t, err, chain.ErrValidation)
	assert.Contains(t, err.Error(), "out of range")

	assert.Empty(t, esplora.broadcast)
}
