package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/config"
	"payrail/internal/metrics"
	"payrail/internal/models"
	"payrail/internal/ratelimit"
)

const (
	pathDepositHistory = "/sapi/v1/capital/deposit/hisrec"
	pathAssetConfig    = "/sapi/v1/capital/config/getall"
	pathWithdraw       = "/sapi/v1/capital/withdraw/apply"
	pathExchangeInfo   = "/api/v3/exchangeInfo"
	pathTickerPrice    = "/api/v3/ticker/price"
	pathOrder          = "/api/v3/order"
)

// Client is a signed REST client for the liquidity exchange.
// It performs no retries; callers own the retry policy.
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	recvWindow int64
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *zap.Logger

	now    func() time.Time
	lastTS atomic.Int64
}

// NewClient creates an exchange client
func NewClient(cfg *config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("exchange base URL cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		recvWindow: cfg.RecvWindow,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.NewLimiter(cfg.RateLimit, cfg.RateBurst, "exchange"),
		logger:     logger,
		now:        time.Now,
	}, nil
}

type param struct {
	key   string
	value string
}

// params keeps declaration order, which is the order the signature covers
type params []param

func (p params) add(key, value string) params {
	return append(p, param{key: key, value: value})
}

func (p params) encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.value))
	}
	return b.String()
}

// Sign returns hex(HMAC-SHA256(secret, query))
func Sign(secret, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// timestamp returns epoch milliseconds, strictly increasing across calls
func (c *Client) timestamp() int64 {
	for {
		last := c.lastTS.Load()
		ts := c.now().UnixMilli()
		if ts <= last {
			ts = last + 1
		}
		if c.lastTS.CompareAndSwap(last, ts) {
			return ts
		}
	}
}

// signedQuery appends recvWindow, timestamp and signature to p
func (c *Client) signedQuery(p params) string {
	if c.recvWindow > 0 {
		p = p.add("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	}
	p = p.add("timestamp", strconv.FormatInt(c.timestamp(), 10))
	query := p.encode()
	return query + "&signature=" + Sign(c.apiSecret, query)
}

// ListRecentDeposits returns the deposit history since the given time
func (c *Client) ListRecentDeposits(ctx context.Context, since time.Time) ([]Deposit, error) {
	p := params{}.add("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	var deposits []Deposit
	if _, err := c.do(ctx, http.MethodGet, pathDepositHistory, p, true, &deposits); err != nil {
		return nil, err
	}
	return deposits, nil
}

// FindDeposit looks a deposit up by its on-chain transaction id
func (c *Client) FindDeposit(ctx context.Context, txID string) (*Deposit, error) {
	if txID == "" {
		return nil, chain.Invalid("deposit tx id cannot be empty")
	}
	p := params{}.add("txId", txID)
	var deposits []Deposit
	if _, err := c.do(ctx, http.MethodGet, pathDepositHistory, p, true, &deposits); err != nil {
		return nil, err
	}
	for i := range deposits {
		if deposits[i].TxID == txID {
			return &deposits[i], nil
		}
	}
	return nil, fmt.Errorf("deposit %s: %w", txID, chain.ErrNotFound)
}

// GetAssetNetworkConfig returns the per-network deposit and withdrawal policy of asset
func (c *Client) GetAssetNetworkConfig(ctx context.Context, asset string) (*AssetConfig, error) {
	var assets []AssetConfig
	if _, err := c.do(ctx, http.MethodGet, pathAssetConfig, params{}, true, &assets); err != nil {
		return nil, err
	}
	for i := range assets {
		if strings.EqualFold(assets[i].Coin, asset) {
			return &assets[i], nil
		}
	}
	return nil, fmt.Errorf("asset %s: %w", asset, chain.ErrNotFound)
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			StepSize   string `json:"stepSize"`
			MinQty     string `json:"minQty"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// GetSymbol returns the trading pair base/quote with its lot size. Unknown pairs are ErrNotFound.
func (c *Client) GetSymbol(ctx context.Context, base, quote string) (*Symbol, error) {
	name := strings.ToUpper(base + quote)
	var info exchangeInfo
	if _, err := c.do(ctx, http.MethodGet, pathExchangeInfo, params{}.add("symbol", name), false, &info); err != nil {
		return nil, err
	}
	for _, s := range info.Symbols {
		if s.Symbol != name {
			continue
		}
		sym := &Symbol{
			Symbol:     s.Symbol,
			Status:     s.Status,
			BaseAsset:  s.BaseAsset,
			QuoteAsset: s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				sym.StepSize = parseDecimal(f.StepSize)
				sym.MinQty = parseDecimal(f.MinQty)
			case "PRICE_FILTER":
				sym.TickSize = parseDecimal(f.TickSize)
			}
		}
		return sym, nil
	}
	return nil, fmt.Errorf("symbol %s: %w", name, chain.ErrNotFound)
}

// FindPair returns the pair trading a against b in either direction
func (c *Client) FindPair(ctx context.Context, a, b string) (*Symbol, error) {
	sym, err := c.GetSymbol(ctx, a, b)
	if err == nil || !errors.Is(err, chain.ErrNotFound) {
		return sym, err
	}
	sym, err = c.GetSymbol(ctx, b, a)
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return nil, fmt.Errorf("no trading pair for %s/%s: %w", a, b, chain.ErrNotFound)
		}
		return nil, err
	}
	return sym, nil
}

// TickerPrice returns the latest trade price of symbol
func (c *Client) TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var ticker struct {
		Symbol string          `json:"symbol"`
		Price  decimal.Decimal `json:"price"`
	}
	if _, err := c.do(ctx, http.MethodGet, pathTickerPrice, params{}.add("symbol", symbol), false, &ticker); err != nil {
		return decimal.Zero, err
	}
	return ticker.Price, nil
}

// PlaceOrder submits a spot order and returns the full response
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if !req.Quantity.IsPositive() {
		return nil, chain.Invalid("order quantity must be positive, got %s", req.Quantity)
	}

	p := params{}.
		add("symbol", req.Symbol).
		add("side", string(req.Side)).
		add("type", string(req.Type))
	if req.Type == models.OrderTypeLimit {
		if req.Price == nil || !req.Price.IsPositive() {
			return nil, chain.Invalid("limit order requires a positive price")
		}
		p = p.add("timeInForce", "GTC")
	}
	p = p.add("quantity", req.Quantity.String())
	if req.Type == models.OrderTypeLimit {
		p = p.add("price", req.Price.String())
	}
	if req.ClientOrderID != "" {
		p = p.add("newClientOrderId", req.ClientOrderID)
	}
	p = p.add("newOrderRespType", "FULL")

	var order Order
	raw, err := c.do(ctx, http.MethodPost, pathOrder, p, true, &order)
	if err != nil {
		return nil, err
	}
	order.Raw = raw

	c.logger.Info("Order placed",
		zap.String("symbol", order.Symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("side", order.Side),
		zap.String("status", order.Status))
	return &order, nil
}

// GetOrder fetches an order by id
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	p := params{}.
		add("symbol", symbol).
		add("orderId", strconv.FormatInt(orderID, 10))
	var order Order
	raw, err := c.do(ctx, http.MethodGet, pathOrder, p, true, &order)
	if err != nil {
		return nil, err
	}
	order.Raw = raw
	return &order, nil
}

// GetOrderByClientID fetches an order by the client order id it was placed with
func (c *Client) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*Order, error) {
	p := params{}.
		add("symbol", symbol).
		add("origClientOrderId", clientOrderID)
	var order Order
	raw, err := c.do(ctx, http.MethodGet, pathOrder, p, true, &order)
	if err != nil {
		return nil, err
	}
	order.Raw = raw
	return &order, nil
}

// Withdraw submits a withdrawal. WithdrawOrderID is the exchange-side idempotency key.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, chain.Invalid("withdraw amount must be positive, got %s", req.Amount)
	}
	if req.Address == "" {
		return nil, chain.Invalid("withdraw address cannot be empty")
	}

	p := params{}.add("coin", req.Coin)
	if req.WithdrawOrderID != "" {
		p = p.add("withdrawOrderId", req.WithdrawOrderID)
	}
	p = p.
		add("network", req.Network).
		add("address", req.Address).
		add("amount", req.Amount.String())

	var w Withdrawal
	raw, err := c.do(ctx, http.MethodPost, pathWithdraw, p, true, &w)
	if err != nil {
		return nil, err
	}
	w.Raw = raw

	c.logger.Info("Withdrawal submitted",
		zap.String("coin", req.Coin),
		zap.String("network", req.Network),
		zap.String("amount", req.Amount.String()),
		zap.String("withdraw_id", w.ID),
		zap.String("withdraw_order_id", req.WithdrawOrderID))
	return &w, nil
}

// do sends one request and decodes the body into out. It returns the raw body.
func (c *Client) do(ctx context.Context, method, path string, p params, signed bool, out interface{}) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, chain.External(path, err)
	}

	query := p.encode()
	if signed {
		query = c.signedQuery(p)
	}
	endpoint := c.baseURL + path
	if query != "" {
		endpoint += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ExchangeLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExchangeCalls.WithLabelValues(path, "transport_error").Inc()
		return nil, chain.External(path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ExchangeCalls.WithLabelValues(path, "transport_error").Inc()
		return nil, chain.External(path, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ExchangeCalls.WithLabelValues(path, "api_error").Inc()
		return nil, apiError(path, resp.StatusCode, body)
	}
	metrics.ExchangeCalls.WithLabelValues(path, "ok").Inc()

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, chain.External(path, fmt.Errorf("failed to parse response: %w", err))
		}
	}
	return body, nil
}

func apiError(path string, status int, body []byte) error {
	apiErr := &APIError{HTTPStatus: status}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == 0 {
		return chain.External(path, fmt.Errorf("exchange returned status %d: %s", status, string(body)))
	}
	switch apiErr.Code {
	case CodeInvalidSymbol, CodeNoSuchOrder:
		return fmt.Errorf("%s: %w", path, errors.Join(chain.ErrNotFound, apiErr))
	case CodeFilterFailure, CodeBadPrecision, CodeNewOrderRejected:
		return fmt.Errorf("%s: %w", path, errors.Join(ErrOrderRejected, apiErr))
	}
	return chain.External(path, apiErr)
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
