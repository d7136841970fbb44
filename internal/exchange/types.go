package exchange

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"payrail/internal/models"
)

// DepositConfirmed is the deposit history status of a credited deposit
const DepositConfirmed = 1

// Order statuses
const (
	OrderStatusNew             = "NEW"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCanceled        = "CANCELED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// SymbolStatusTrading is the exchangeInfo status of a pair open for orders
const SymbolStatusTrading = "TRADING"

// ErrOrderRejected marks an order the exchange refused on its filters or
// balance. Re-sending the same order cannot succeed.
var ErrOrderRejected = errors.New("order rejected")

// Deposit is one entry of the deposit history
type Deposit struct {
	TxID       string          `json:"txId"`
	Coin       string          `json:"coin"`
	Network    string          `json:"network"`
	Amount     decimal.Decimal `json:"amount"`
	Address    string          `json:"address"`
	InsertTime int64           `json:"insertTime"`
	Status     int             `json:"status"`
}

// Confirmed reports whether the deposit is credited and usable
func (d Deposit) Confirmed() bool {
	return d.Status == DepositConfirmed
}

// NetworkConfig is the deposit and withdrawal policy of an asset on one network
type NetworkConfig struct {
	Network                 string          `json:"network"`
	Coin                    string          `json:"coin"`
	WithdrawEnable          bool            `json:"withdrawEnable"`
	WithdrawFee             decimal.Decimal `json:"withdrawFee"`
	WithdrawMin             decimal.Decimal `json:"withdrawMin"`
	WithdrawMax             decimal.Decimal `json:"withdrawMax"`
	WithdrawIntegerMultiple decimal.Decimal `json:"withdrawIntegerMultiple"`
	DepositDust             decimal.Decimal `json:"depositDust"`
}

// AssetConfig is the per-network configuration of one coin
type AssetConfig struct {
	Coin        string          `json:"coin"`
	Name        string          `json:"name"`
	NetworkList []NetworkConfig `json:"networkList"`
}

// ForNetwork returns the entry whose label refers to network
func (a AssetConfig) ForNetwork(network models.NetworkIndex) (NetworkConfig, bool) {
	for _, n := range a.NetworkList {
		if network.MatchesExchangeNetwork(n.Network) {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// Symbol is a spot trading pair with its lot size filter
type Symbol struct {
	Symbol     string
	Status     string
	BaseAsset  string
	QuoteAsset string
	StepSize   decimal.Decimal
	MinQty     decimal.Decimal
	TickSize   decimal.Decimal
}

// HasAsset reports whether coin is one side of the pair
func (s Symbol) HasAsset(coin string) bool {
	return strings.EqualFold(s.BaseAsset, coin) || strings.EqualFold(s.QuoteAsset, coin)
}

// Trading reports whether the pair accepts new orders
func (s Symbol) Trading() bool {
	return s.Status == SymbolStatusTrading
}

// OrderRequest is a new spot order
type OrderRequest struct {
	Symbol        string
	Side          models.Side
	Type          models.OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	ClientOrderID string
}

// Order is the exchange's view of a spot order. Raw keeps the full response.
type Order struct {
	Symbol              string          `json:"symbol"`
	OrderID             int64           `json:"orderId"`
	ClientOrderID       string          `json:"clientOrderId"`
	Price               decimal.Decimal `json:"price"`
	OrigQty             decimal.Decimal `json:"origQty"`
	ExecutedQty         decimal.Decimal `json:"executedQty"`
	CummulativeQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	Status              string          `json:"status"`
	Type                string          `json:"type"`
	Side                string          `json:"side"`
	Raw                 json.RawMessage `json:"-"`
}

// Filled reports whether the order is completely executed
func (o Order) Filled() bool {
	return o.Status == OrderStatusFilled
}

// Closed reports whether the order ended without a full fill
func (o Order) Closed() bool {
	switch o.Status {
	case OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// WithdrawRequest is a withdrawal to an external address
type WithdrawRequest struct {
	Coin            string
	Network         string
	Address         string
	Amount          decimal.Decimal
	WithdrawOrderID string
}

// Withdrawal is the withdraw/apply response. Raw keeps the full response.
type Withdrawal struct {
	ID  string          `json:"id"`
	Raw json.RawMessage `json:"-"`
}

// APIError is the exchange's {code,msg} error body
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// Exchange error codes with a meaning beyond "request failed"
const (
	CodeInvalidSymbol    = -1121
	CodeBadPrecision     = -1111
	CodeFilterFailure    = -1013
	CodeNewOrderRejected = -2010
	CodeNoSuchOrder      = -2013
)
