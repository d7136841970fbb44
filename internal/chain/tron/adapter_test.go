package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type fakeNode struct {
	balance     int64
	tokenHex    string
	broadcasted []Transaction
	requests    map[string]map[string]interface{}
}

const rawHex = "0a025d6c2208a1b2c3d4e5f60718"

func (f *fakeNode) handler() http.Handler {
	rawBytes, _ := hex.DecodeString(rawHex)
	sum := sha256.Sum256(rawBytes)
	unsigned := Transaction{
		TxID:       hex.EncodeToString(sum[:]),
		RawData:    json.RawMessage(`{"contract":[]}`),
		RawDataHex: rawHex,
		Visible:    true,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.requests == nil {
			f.requests = map[string]map[string]interface{}{}
		}
		body := map[string]interface{}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.requests[r.URL.Path] = body

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/wallet/getaccount":
			if f.balance == 0 {
				_, _ = w.Write([]byte(`{}`))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"balance": f.balance})
		case "/wallet/triggerconstantcontract":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result":          map[string]interface{}{"result": true},
				"constant_result": []string{f.tokenHex},
			})
		case "/wallet/createtransaction":
			_ = json.NewEncoder(w).Encode(unsigned)
		case "/wallet/triggersmartcontract":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"result":      map[string]interface{}{"result": true},
				"transaction": unsigned,
			})
		case "/wallet/broadcasttransaction":
			raw, _ := json.Marshal(body)
			var tx Transaction
			_ = json.Unmarshal(raw, &tx)
			f.broadcasted = append(f.broadcasted, tx)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": true, "txid": tx.TxID})
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestAdapter(t *testing.T, node *fakeNode) *Adapter {
	t.Helper()
	server := httptest.NewServer(node.handler())
	t.Cleanup(server.Close)

	a, err := NewAdapter(&config.ChainConfig{RPCEndpoint: server.URL}, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestDeriveCredential(t *testing.T) {
	a := newTestAdapter(t, &fakeNode{})

	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cred.Address, "T"))
	assert.Len(t, cred.Address, 34)
	assert.True(t, a.IsValidAddress(cred.Address))

	again, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	assert.Equal(t, cred, again)
}

func TestIsValidAddress(t *testing.T) {
	a := newTestAdapter(t, &fakeNode{})

	assert.True(t, a.IsValidAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"))
	assert.False(t, a.IsValidAddress("TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u"))
	assert.False(t, a.IsValidAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"))
	assert.False(t, a.IsValidAddress(""))
}

func TestBalances(t *testing.T) {
	node := &fakeNode{balance: 12_345_678, tokenHex: strings.Repeat("0", 56) + "05f5e100"}
	a := newTestAdapter(t, node)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)

	native, err := a.NativeBalance(context.Background(), cred.Address)
	require.NoError(t, err)
	assert.Equal(t, "12.345678", native.String())

	token, err := a.TokenBalance(context.Background(), cred.Address, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", 6)
	require.NoError(t, err)
	assert.Equal(t, "100", token.String())

	param := node.requests["/wallet/triggerconstantcontract"]["parameter"].(string)
	assert.Len(t, param, 64)
}

func TestBalance_UnknownAccountIsZero(t *testing.T) {
	a := newTestAdapter(t, &fakeNode{})
	bal, err := a.NativeBalance(context.Background(), "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestNativeTransfer_SignsTxID(t *testing.T) {
	node := &fakeNode{balance: 50_000_000}
	a := newTestAdapter(t, node)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)

	hash, err := a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey,
		"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", decimal.RequireFromString("10.5"))
	require.NoError(t, err)
	require.Len(t, node.broadcasted, 1)

	tx := node.broadcasted[0]
	assert.Equal(t, tx.TxID, hash)
	assert.Equal(t, float64(10_500_000), node.requests["/wallet/createtransaction"]["amount"])

	require.Len(t, tx.Signature, 1)
	sig, err := hex.DecodeString(tx.Signature[0])
	require.NoError(t, err)
	digest, _ := hex.DecodeString(tx.TxID)
	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, cred.Address, AddressFromKey(pub))
}

func TestTransfer_Preflight(t *testing.T) {
	node := &fakeNode{balance: 1_000_000, tokenHex: strings.Repeat("0", 64)}
	a := newTestAdapter(t, node)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	to := "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

	_, err = a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.NewFromInt(2))
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)

	_, err = a.TokenTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.NewFromInt(1), to, 6)
	assert.ErrorIs(t, err, chain.ErrInsufficientFunds)

	_, err = a.NativeTransfer(context.Background(), to, cred.PrivateKey, cred.Address, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, chain.ErrValidation)

	_, err = a.NativeTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.RequireFromString("1e13"))
	assert.ErrorIs(t, err, chain.ErrValidation)
	assert.Contains(t, err.Error(), "out of range")

	assert.Empty(t, node.broadcasted)
}

func TestTokenTransfer(t *testing.T) {
	node := &fakeNode{balance: 1, tokenHex: strings.Repeat("0", 56) + "05f5e100"}
	a := newTestAdapter(t, node)
	cred, err := a.DeriveCredential(context.Background(), testMnemonic)
	require.NoError(t, err)
	to := "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

	_, err = a.TokenTransfer(context.Background(), cred.Address, cred.PrivateKey, to, decimal.NewFromInt(25), to, 6)
	require.NoError(t, err)
	require.Len(t, node.broadcasted, 1)

	req := node.requests["/wallet/triggersmartcontract"]
	assert.Equal(t, "transfer(address,uint256)", req["function_selector"])
	assert.Equal(t, float64(FeeLimitSun), req["fee_limit"])
	param := req["parameter"].(string)
	assert.Len(t, param, 128)
	assert.True(t, strings.HasSuffix(param, "17d7840"))
}

func TestEstimateFee(t *testing.T) {
	a := newTestAdapter(t, &fakeNode{})
	fee, err := a.EstimateFee(context.Background(), chain.FeeNative)
	require.NoError(t, err)
	assert.Equal(t, "1.1", fee.String())
	fee, err = a.EstimateFee(context.Background(), chain.FeeToken)
	require.NoError(t, err)
	assert.Equal(t, "15", fee.String())
}
