package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents the state of a payment request or spot order
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusScheduled  Status = "SCHEDULED"
	StatusPaid       Status = "PAID"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// rank orders the non-terminal part of the lattice. PROCESSING and SCHEDULED share a rank.
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusScheduled:  1,
	StatusPaid:       2,
	StatusCompleted:  3,
}

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusScheduled, StatusPaid, StatusCompleted, StatusFailed, StatusCancelled},
	StatusScheduled:  {StatusPaid, StatusFailed, StatusCancelled},
	StatusPaid:       {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Rank returns the lattice rank of a non-terminal or completed status, and -1 otherwise
func (s Status) Rank() int {
	if r, ok := rank[s]; ok {
		return r
	}
	return -1
}

// CanTransition reports whether from -> to is a forward move on the status lattice
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExchangeType is the routing strategy chosen for a record
type ExchangeType string

const (
	ExchangeTypeSame     ExchangeType = "SAME"
	ExchangeTypeBridge   ExchangeType = "BRIDGE"
	ExchangeTypeExchange ExchangeType = "EXCHANGE"
)

// OrderType is the exchange order type
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// Side is the exchange order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// RecordKind distinguishes the two settled record tables
type RecordKind string

const (
	RecordKindPayment RecordKind = "payment"
	RecordKindSpot    RecordKind = "spot"
)

// Credential is a derived wallet. It is never persisted.
type Credential struct {
	Network    NetworkIndex `json:"network"`
	Index      int          `json:"index"`
	Address    string       `json:"address"`
	PrivateKey string       `json:"-"`
}

// Network is a configured chain row
type Network struct {
	ID       int64        `db:"id"`
	Index    NetworkIndex `db:"network_index"`
	Name     string       `db:"name"`
	Symbol   string       `db:"symbol"`
	Decimals int32        `db:"decimals"`
	IsActive bool         `db:"is_active"`
}

// Wallet maps a user to an address on one network
type Wallet struct {
	ID        int64        `db:"id"`
	UserID    string       `db:"user_id"`
	Address   string       `db:"address"`
	Network   NetworkIndex `db:"network"`
	CreatedAt time.Time    `db:"created_at"`
}

// Token is a fungible asset on one network
type Token struct {
	ID       int64        `db:"id"`
	Contract string       `db:"contract"`
	Decimals int32        `db:"decimals"`
	Network  NetworkIndex `db:"network"`
	Symbol   string       `db:"symbol"`
}

// JSONBlob stores exchange payloads verbatim
type JSONBlob json.RawMessage

// Value implements driver.Valuer
func (j JSONBlob) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner
func (j *JSONBlob) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONBlob(v)
	default:
		return fmt.Errorf("unsupported JSONBlob source %T", src)
	}
	return nil
}

// MarshalJSON emits the blob as raw JSON
func (j JSONBlob) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON keeps the raw bytes
func (j *JSONBlob) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// PaymentRequest is a deposit-to-payout request keyed by a two digit reference code
type PaymentRequest struct {
	ID              int64            `db:"id"`
	UserID          string           `db:"user_id"`
	RefID           string           `db:"ref_id"`
	Network         NetworkIndex     `db:"network"`
	TokenID         *int64           `db:"token_id"`
	Amount          decimal.Decimal  `db:"amount"`
	Fee             *decimal.Decimal `db:"fee"`
	Status          Status           `db:"status"`
	IsPaid          bool             `db:"is_paid"`
	Hash            *string          `db:"hash"`
	ExchangeType    ExchangeType     `db:"exchange_type"`
	ToNetwork       NetworkIndex     `db:"to_network"`
	ToTokenID       *int64           `db:"to_token_id"`
	ToAddress       string           `db:"to_address"`
	OrderType       OrderType        `db:"order_type"`
	Price           *decimal.Decimal `db:"price"`
	Symbol          *string          `db:"symbol"`
	ExchangeOrderID *int64           `db:"exchange_order_id"`
	OrderData       JSONBlob         `db:"order_data"`
	WithdrawData    JSONBlob         `db:"withdraw_data"`
	SocketID        *string          `db:"socket_id"`
	ErrorMessage    *string          `db:"error_message"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// SpotMarketOrder is a user-initiated conversion between two coins
type SpotMarketOrder struct {
	ID              int64            `db:"id"`
	UserID          string           `db:"user_id"`
	RefID           string           `db:"ref_id"`
	OrderType       OrderType        `db:"order_type"`
	FromNetwork     NetworkIndex     `db:"from_network"`
	ToNetwork       NetworkIndex     `db:"to_network"`
	FromCoin        string           `db:"from_coin"`
	ToCoin          string           `db:"to_coin"`
	Amount          decimal.Decimal  `db:"amount"`
	Hash            *string          `db:"hash"`
	ExchangeType    ExchangeType     `db:"exchange_type"`
	Status          Status           `db:"status"`
	IsPaid          bool             `db:"is_paid"`
	Symbol          *string          `db:"symbol"`
	Side            *Side            `db:"side"`
	Price           *decimal.Decimal `db:"price"`
	Quantity        *decimal.Decimal `db:"quantity"`
	ToAddress       string           `db:"to_address"`
	ExchangeOrderID *int64           `db:"exchange_order_id"`
	OrderData       JSONBlob         `db:"order_data"`
	WithdrawData    JSONBlob         `db:"withdraw_data"`
	SocketID        *string          `db:"socket_id"`
	ErrorMessage    *string          `db:"error_message"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// OutboxStatus is the state of a queued withdrawal
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxRunning OutboxStatus = "RUNNING"
	OutboxDone    OutboxStatus = "DONE"
	OutboxFailed  OutboxStatus = "FAILED"
)

// PendingWithdrawal is a durable "withdraw at due_at" task
type PendingWithdrawal struct {
	ID              int64           `db:"id"`
	RecordKind      RecordKind      `db:"record_kind"`
	RecordID        int64           `db:"record_id"`
	Coin            string          `db:"coin"`
	Network         NetworkIndex    `db:"network"`
	Address         string          `db:"address"`
	Amount          decimal.Decimal `db:"amount"`
	WithdrawOrderID string          `db:"withdraw_order_id"`
	DueAt           time.Time       `db:"due_at"`
	Status          OutboxStatus    `db:"status"`
	Attempts        int             `db:"attempts"`
	LastError       *string         `db:"last_error"`
	ClaimedAt       *time.Time      `db:"claimed_at"`
	CreatedAt       time.Time       `db:"created_at"`
}
