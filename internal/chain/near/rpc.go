package near

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"payrail/internal/chain"
	"payrail/internal/ratelimit"
)

// RPCClient is a minimal NEAR JSON-RPC client
type RPCClient struct {
	endpoint   string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
}

// NewRPCClient creates a NEAR JSON-RPC client
func NewRPCClient(endpoint string, limiter *ratelimit.Limiter) (*RPCClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("NEAR RPC endpoint cannot be empty")
	}
	return &RPCClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    limiter,
	}, nil
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError is a structured NEAR RPC error
type RPCError struct {
	Name    string `json:"name"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Cause   struct {
		Name string `json:"name"`
	} `json:"cause"`
}

func (e *RPCError) Error() string {
	if e.Cause.Name != "" {
		return fmt.Sprintf("%s: %s (%d)", e.Name, e.Cause.Name, e.Code)
	}
	return fmt.Sprintf("%s: %s (%d)", e.Name, e.Message, e.Code)
}

// IsUnknownAccount reports whether err is the node's UNKNOWN_ACCOUNT handler error
func IsUnknownAccount(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr) && rpcErr.Cause.Name == "UNKNOWN_ACCOUNT"
}

// Call runs one rate-limited JSON-RPC call and decodes its result into out
func (c *RPCClient) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return chain.External(method, err)
	}
	err := c.do(ctx, method, params, out)
	ratelimit.RecordCall("NEAR", method, err)
	if err != nil {
		return chain.External(method, err)
	}
	return nil
}

func (c *RPCClient) do(ctx context.Context, method string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "payrail", Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to query NEAR RPC: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("NEAR RPC returned status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("NEAR RPC returned status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse result: %w", err)
	}
	return nil
}
