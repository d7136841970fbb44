package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Settlement is the record-kind agnostic view the reconciliation engine operates on
type Settlement struct {
	Kind            RecordKind
	ID              int64
	UserID          string
	RefID           string
	FromNetwork     NetworkIndex
	FromCoin        string
	ToNetwork       NetworkIndex
	ToCoin          string
	ToAddress       string
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	ExchangeType    ExchangeType
	OrderType       OrderType
	Price           *decimal.Decimal
	Symbol          string
	Status          Status
	IsPaid          bool
	Hash            string
	ExchangeOrderID *int64
	SocketID        string
}

// Key identifies the record in logs and idempotency keys
func (s Settlement) Key() string {
	return fmt.Sprintf("%s-%d", s.Kind, s.ID)
}

// Settlement projects a payment request. fromToken and toToken are the token
// symbols, empty for the native asset of the respective network.
func (p PaymentRequest) Settlement(fromToken, toToken string) Settlement {
	s := Settlement{
		Kind:            RecordKindPayment,
		ID:              p.ID,
		UserID:          p.UserID,
		RefID:           p.RefID,
		FromNetwork:     p.Network,
		FromCoin:        fromToken,
		ToNetwork:       p.ToNetwork,
		ToCoin:          toToken,
		ToAddress:       p.ToAddress,
		Amount:          p.Amount,
		ExchangeType:    p.ExchangeType,
		OrderType:       p.OrderType,
		Price:           p.Price,
		Symbol:          deref(p.Symbol),
		Status:          p.Status,
		IsPaid:          p.IsPaid,
		Hash:            deref(p.Hash),
		ExchangeOrderID: p.ExchangeOrderID,
		SocketID:        deref(p.SocketID),
	}
	if s.FromCoin == "" {
		s.FromCoin = p.Network.NativeSymbol()
	}
	if s.ToNetwork == "" {
		s.ToNetwork = p.Network
	}
	if s.ToCoin == "" {
		s.ToCoin = s.ToNetwork.NativeSymbol()
	}
	if p.Fee != nil {
		s.Fee = *p.Fee
	}
	return s
}

// Settlement projects a spot order
func (o SpotMarketOrder) Settlement() Settlement {
	return Settlement{
		Kind:            RecordKindSpot,
		ID:              o.ID,
		UserID:          o.UserID,
		RefID:           o.RefID,
		FromNetwork:     o.FromNetwork,
		FromCoin:        o.FromCoin,
		ToNetwork:       o.ToNetwork,
		ToCoin:          o.ToCoin,
		ToAddress:       o.ToAddress,
		Amount:          o.Amount,
		ExchangeType:    o.ExchangeType,
		OrderType:       o.OrderType,
		Price:           o.Price,
		Symbol:          deref(o.Symbol),
		Status:          o.Status,
		IsPaid:          o.IsPaid,
		Hash:            deref(o.Hash),
		ExchangeOrderID: o.ExchangeOrderID,
		SocketID:        deref(o.SocketID),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SettlementPatch carries the optional columns written alongside a status transition
type SettlementPatch struct {
	IsPaid          *bool
	Hash            *string
	OrderData       JSONBlob
	WithdrawData    JSONBlob
	ExchangeOrderID *int64
	Symbol          *string
	Side            *Side
	Quantity        *decimal.Decimal
	Price           *decimal.Decimal
	ErrorMessage    *string
}
