package tron

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payrail/internal/chain"
	"payrail/internal/ratelimit"
)

// Client talks to the TRON full-node HTTP API
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewClient creates a TRON HTTP API client
func NewClient(endpoint, apiKey string, limiter *ratelimit.Limiter) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("TRON API endpoint cannot be empty")
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: limiter,
	}, nil
}

// Transaction is an unsigned or signed TRON transaction as returned by the node.
// RawData is kept verbatim so the broadcast body matches what was hashed.
type Transaction struct {
	TxID       string          `json:"txID"`
	RawData    json.RawMessage `json:"raw_data"`
	RawDataHex string          `json:"raw_data_hex"`
	Visible    bool            `json:"visible"`
	Signature  []string        `json:"signature,omitempty"`
	Error      string          `json:"Error,omitempty"`
}

type accountResponse struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
}

type callResult struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type triggerResponse struct {
	Result         callResult   `json:"result"`
	ConstantResult []string     `json:"constant_result"`
	Transaction    *Transaction `json:"transaction"`
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// GetAccount returns the sun balance; an unactivated account has balance 0
func (c *Client) GetAccount(ctx context.Context, address string) (int64, error) {
	var resp accountResponse
	err := c.post(ctx, "/wallet/getaccount", map[string]interface{}{
		"address": address,
		"visible": true,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

// TriggerConstant calls a view function and returns the first constant result as hex
func (c *Client) TriggerConstant(ctx context.Context, owner, contract, selector, parameter string) (string, error) {
	var resp triggerResponse
	err := c.post(ctx, "/wallet/triggerconstantcontract", map[string]interface{}{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"visible":           true,
	}, &resp)
	if err != nil {
		return "", err
	}
	if !resp.Result.Result {
		return "", chain.External("triggerconstantcontract", fmt.Errorf("%s: %s", resp.Result.Code, decodeMessage(resp.Result.Message)))
	}
	if len(resp.ConstantResult) == 0 {
		return "", nil
	}
	return resp.ConstantResult[0], nil
}

// CreateTransaction builds an unsigned TRX transfer
func (c *Client) CreateTransaction(ctx context.Context, from, to string, sun int64) (*Transaction, error) {
	var tx Transaction
	err := c.post(ctx, "/wallet/createtransaction", map[string]interface{}{
		"owner_address": from,
		"to_address":    to,
		"amount":        sun,
		"visible":       true,
	}, &tx)
	if err != nil {
		return nil, err
	}
	if tx.Error != "" {
		return nil, chain.External("createtransaction", fmt.Errorf("%s", tx.Error))
	}
	return &tx, nil
}

// TriggerSmartContract builds an unsigned contract call
func (c *Client) TriggerSmartContract(ctx context.Context, owner, contract, selector, parameter string, feeLimit int64) (*Transaction, error) {
	var resp triggerResponse
	err := c.post(ctx, "/wallet/triggersmartcontract", map[string]interface{}{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"fee_limit":         feeLimit,
		"call_value":        0,
		"visible":           true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Result.Result || resp.Transaction == nil {
		return nil, chain.External("triggersmartcontract", fmt.Errorf("%s: %s", resp.Result.Code, decodeMessage(resp.Result.Message)))
	}
	return resp.Transaction, nil
}

// Broadcast submits a signed transaction
func (c *Client) Broadcast(ctx context.Context, tx *Transaction) (string, error) {
	var resp broadcastResponse
	if err := c.post(ctx, "/wallet/broadcasttransaction", tx, &resp); err != nil {
		return "", err
	}
	if !resp.Result {
		return "", chain.External("broadcasttransaction", fmt.Errorf("%s: %s", resp.Code, decodeMessage(resp.Message)))
	}
	if resp.TxID == "" {
		return tx.TxID, nil
	}
	return resp.TxID, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	method := path[len("/wallet/"):]
	if err := c.limiter.Wait(ctx); err != nil {
		return chain.External(method, err)
	}
	err := c.do(ctx, path, body, out)
	ratelimit.RecordCall("TRON", method, err)
	if err != nil {
		return chain.External(method, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query TRON API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("TRON API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
