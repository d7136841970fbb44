package api

import (
	"time"

	"github.com/shopspring/decimal"

	"payrail/internal/chain"
	"payrail/internal/models"
	"payrail/internal/service"
)

// ==================== Wallets ====================

// CreateWalletsRequest derives and stores a user's wallets
type CreateWalletsRequest struct {
	UserID   string `json:"user_id"`
	Mnemonic string `json:"mnemonic"`
}

// WalletResponse is one stored wallet
type WalletResponse struct {
	ID        int64               `json:"id"`
	Network   models.NetworkIndex `json:"network"`
	Address   string              `json:"address"`
	CreatedAt time.Time           `json:"created_at"`
}

// CreateWalletsResponse lists the user's wallets on active networks
type CreateWalletsResponse struct {
	UserID  string           `json:"user_id"`
	Wallets []WalletResponse `json:"wallets"`
}

// BalancesResponse lists balances per network
type BalancesResponse struct {
	UserID   string                   `json:"user_id"`
	Balances []service.NetworkBalance `json:"balances"`
}

// ==================== Transfers ====================

// TransferRequest sends the native asset, or a token when TokenID is set
type TransferRequest struct {
	UserID     string          `json:"user_id"`
	Network    string          `json:"network"`
	PrivateKey string          `json:"private_key"`
	To         string          `json:"to"`
	Amount     decimal.Decimal `json:"amount"`
	TokenID    int64           `json:"token_id,omitempty"`
}

// FeeResponse is a network fee estimate
type FeeResponse struct {
	Network models.NetworkIndex `json:"network"`
	Kind    chain.FeeKind       `json:"kind"`
	Fee     decimal.Decimal     `json:"fee"`
	Symbol  string              `json:"symbol"`
}

// ==================== Payments ====================

// CreatePaymentRequest opens a payment awaiting a deposit
type CreatePaymentRequest struct {
	UserID    string           `json:"user_id"`
	Network   string           `json:"network"`
	TokenID   *int64           `json:"token_id,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	ToNetwork string           `json:"to_network,omitempty"`
	ToTokenID *int64           `json:"to_token_id,omitempty"`
	ToAddress string           `json:"to_address"`
	OrderType models.OrderType `json:"order_type,omitempty"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

// PaymentResponse is the public view of a payment request
type PaymentResponse struct {
	ID              int64               `json:"id"`
	UserID          string              `json:"user_id"`
	RefID           string              `json:"ref_id"`
	Network         models.NetworkIndex `json:"network"`
	TokenID         *int64              `json:"token_id,omitempty"`
	Amount          decimal.Decimal     `json:"amount"`
	Fee             *decimal.Decimal    `json:"fee,omitempty"`
	Status          models.Status       `json:"status"`
	IsPaid          bool                `json:"is_paid"`
	Hash            *string             `json:"hash,omitempty"`
	ExchangeType    models.ExchangeType `json:"exchange_type"`
	ToNetwork       models.NetworkIndex `json:"to_network"`
	ToTokenID       *int64              `json:"to_token_id,omitempty"`
	ToAddress       string              `json:"to_address"`
	OrderType       models.OrderType    `json:"order_type"`
	Price           *decimal.Decimal    `json:"price,omitempty"`
	ExchangeOrderID *int64              `json:"exchange_order_id,omitempty"`
	WithdrawData    models.JSONBlob     `json:"withdraw_data,omitempty"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newPaymentResponse(p *models.PaymentRequest) PaymentResponse {
	return PaymentResponse{
		ID:              p.ID,
		UserID:          p.UserID,
		RefID:           p.RefID,
		Network:         p.Network,
		TokenID:         p.TokenID,
		Amount:          p.Amount,
		Fee:             p.Fee,
		Status:          p.Status,
		IsPaid:          p.IsPaid,
		Hash:            p.Hash,
		ExchangeType:    p.ExchangeType,
		ToNetwork:       p.ToNetwork,
		ToTokenID:       p.ToTokenID,
		ToAddress:       p.ToAddress,
		OrderType:       p.OrderType,
		Price:           p.Price,
		ExchangeOrderID: p.ExchangeOrderID,
		WithdrawData:    p.WithdrawData,
		ErrorMessage:    p.ErrorMessage,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// ==================== Spot Orders ====================

// CreateOrderRequest opens a conversion awaiting a deposit
type CreateOrderRequest struct {
	UserID      string           `json:"user_id"`
	OrderType   models.OrderType `json:"order_type"`
	FromNetwork string           `json:"from_network"`
	ToNetwork   string           `json:"to_network"`
	FromCoin    string           `json:"from_coin"`
	ToCoin      string           `json:"to_coin"`
	Amount      decimal.Decimal  `json:"amount"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	ToAddress   string           `json:"to_address"`
}

// OrderResponse is the public view of a spot order
type OrderResponse struct {
	ID              int64               `json:"id"`
	UserID          string              `json:"user_id"`
	RefID           string              `json:"ref_id"`
	OrderType       models.OrderType    `json:"order_type"`
	FromNetwork     models.NetworkIndex `json:"from_network"`
	ToNetwork       models.NetworkIndex `json:"to_network"`
	FromCoin        string              `json:"from_coin"`
	ToCoin          string              `json:"to_coin"`
	Amount          decimal.Decimal     `json:"amount"`
	Status          models.Status       `json:"status"`
	IsPaid          bool                `json:"is_paid"`
	Hash            *string             `json:"hash,omitempty"`
	ExchangeType    models.ExchangeType `json:"exchange_type"`
	Symbol          *string             `json:"symbol,omitempty"`
	Side            *models.Side        `json:"side,omitempty"`
	Price           *decimal.Decimal    `json:"price,omitempty"`
	Quantity        *decimal.Decimal    `json:"quantity,omitempty"`
	ToAddress       string              `json:"to_address"`
	ExchangeOrderID *int64              `json:"exchange_order_id,omitempty"`
	OrderData       models.JSONBlob     `json:"order_data,omitempty"`
	WithdrawData    models.JSONBlob     `json:"withdraw_data,omitempty"`
	ErrorMessage    *string             `json:"error_message,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newOrderResponse(o *models.SpotMarketOrder) OrderResponse {
	return OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		RefID:           o.RefID,
		OrderType:       o.OrderType,
		FromNetwork:     o.FromNetwork,
		ToNetwork:       o.ToNetwork,
		FromCoin:        o.FromCoin,
		ToCoin:          o.ToCoin,
		Amount:          o.Amount,
		Status:          o.Status,
		IsPaid:          o.IsPaid,
		Hash:            o.Hash,
		ExchangeType:    o.ExchangeType,
		Symbol:          o.Symbol,
		Side:            o.Side,
		Price:           o.Price,
		Quantity:        o.Quantity,
		ToAddress:       o.ToAddress,
		ExchangeOrderID: o.ExchangeOrderID,
		OrderData:       o.OrderData,
		WithdrawData:    o.WithdrawData,
		ErrorMessage:    o.ErrorMessage,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// ==================== Common ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}
