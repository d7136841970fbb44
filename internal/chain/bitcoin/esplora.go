package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"payrail/internal/chain"
	"payrail/internal/ratelimit"
)

// EsploraClient queries an Esplora REST backend (blockstream.info, mempool.space)
type EsploraClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewEsploraClient creates an Esplora client
func NewEsploraClient(endpoint string, limiter *ratelimit.Limiter) (*EsploraClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("Esplora endpoint cannot be empty")
	}
	return &EsploraClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    limiter,
	}, nil
}

type txoStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressInfo struct {
	Address      string   `json:"address"`
	ChainStats   txoStats `json:"chain_stats"`
	MempoolStats txoStats `json:"mempool_stats"`
}

// UTXO is an unspent output of an address
type UTXO struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

// Balance returns confirmed plus mempool satoshis
func (c *EsploraClient) Balance(ctx context.Context, address string) (int64, error) {
	var info addressInfo
	if err := c.getJSON(ctx, "address", "/address/"+address, &info); err != nil {
		return 0, err
	}
	confirmed := info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum
	pending := info.MempoolStats.FundedTxoSum - info.MempoolStats.SpentTxoSum
	return confirmed + pending, nil
}

// UTXOs lists the unspent outputs of address
func (c *EsploraClient) UTXOs(ctx context.Context, address string) ([]UTXO, error) {
	var utxos []UTXO
	if err := c.getJSON(ctx, "utxo", "/address/"+address+"/utxo", &utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

// FeeRate returns the sat/vB estimate for confirmation within target blocks
func (c *EsploraClient) FeeRate(ctx context.Context, target int) (float64, error) {
	var estimates map[string]float64
	if err := c.getJSON(ctx, "fee-estimates", "/fee-estimates", &estimates); err != nil {
		return 0, err
	}
	for t := target; t <= 144; t++ {
		if rate, ok := estimates[fmt.Sprint(t)]; ok && rate > 0 {
			return rate, nil
		}
	}
	return 1, nil
}

// Broadcast posts a raw transaction hex and returns its txid
func (c *EsploraClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	var txid string
	err := c.call(ctx, "broadcast", func() error {
		body, err := c.do(ctx, http.MethodPost, "/tx", strings.NewReader(rawHex))
		if err != nil {
			return err
		}
		txid = strings.TrimSpace(string(body))
		return nil
	})
	return txid, err
}

func (c *EsploraClient) getJSON(ctx context.Context, method, path string, out interface{}) error {
	return c.call(ctx, method, func() error {
		body, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		return nil
	})
}

func (c *EsploraClient) call(ctx context.Context, method string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return chain.External(method, err)
	}
	err := fn()
	ratelimit.RecordCall("BITCOIN", method, err)
	if err != nil {
		return chain.External(method, err)
	}
	return nil
}

func (c *EsploraClient) do(ctx context.Context, httpMethod, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query Esplora: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Esplora returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
