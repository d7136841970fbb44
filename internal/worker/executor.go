package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/exchange"
	"payrail/internal/metrics"
	"payrail/internal/models"
	"payrail/internal/settlement"
)

// Executor moves a paid record to its payout
type Executor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewExecutor creates a settlement executor
func NewExecutor(manager *WorkerManager) *Executor {
	return &Executor{
		manager: manager,
		logger:  manager.logger.Named("executor"),
	}
}

// Settle handles a PROCESSING record whose deposit was matched
func (e *Executor) Settle(ctx context.Context, s models.Settlement) error {
	dep, err := e.manager.exchange.FindDeposit(ctx, s.Hash)
	if errors.Is(err, chain.ErrNotFound) {
		e.logger.Debug("Deposit not visible yet", zap.String("record", s.Key()), zap.String("tx_id", s.Hash))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up deposit %s: %w", s.Hash, err)
	}
	if !dep.Confirmed() {
		e.logger.Debug("Deposit not confirmed yet", zap.String("record", s.Key()), zap.String("tx_id", s.Hash))
		return nil
	}

	route := settlement.Route(s)
	e.logger.Info("Settling record",
		zap.String("record", s.Key()),
		zap.String("route", string(route)),
		zap.String("from", s.FromCoin+"@"+string(s.FromNetwork)),
		zap.String("to", s.ToCoin+"@"+string(s.ToNetwork)))

	switch route {
	case models.ExchangeTypeSame, models.ExchangeTypeBridge:
		return e.settleDirect(ctx, s)
	case models.ExchangeTypeExchange:
		return e.settleExchange(ctx, s)
	default:
		return e.transition(ctx, s, models.StatusProcessing, models.StatusFailed, failure(fmt.Sprintf("unknown exchange type %q", route)))
	}
}

// settleDirect pays out the deposited coin without trading
func (e *Executor) settleDirect(ctx context.Context, s models.Settlement) error {
	netCfg, decision, err := e.withdrawPolicy(ctx, s.ToCoin, s.ToNetwork)
	if err != nil {
		return err
	}

	amount := settlement.PayoutAmount(s, nil)
	if decision.Allowed() {
		amount = settlement.WithdrawAmount(netCfg, amount)
		decision = settlement.CheckWithdrawLimits(netCfg, amount)
	}
	if !decision.Allowed() {
		e.logger.Warn("Withdrawal refused by exchange policy",
			zap.String("record", s.Key()),
			zap.String("amount", amount.String()),
			zap.String("reason", decision.Reason))
		return e.transition(ctx, s, models.StatusProcessing, decision.Status, failure(decision.Reason))
	}

	w, ok, err := e.payAndQueue(ctx, s, models.StatusProcessing, models.SettlementPatch{}, amount, e.manager.now())
	if err != nil || !ok {
		return err
	}
	e.manager.outbox.RunNow(ctx, *w)
	return nil
}

// settleExchange trades the deposited coin into the requested one. The order
// carries the record key as its client order id, so a record whose earlier run
// placed an order resumes from that order instead of trading twice.
func (e *Executor) settleExchange(ctx context.Context, s models.Settlement) error {
	sym, err := e.manager.exchange.FindPair(ctx, s.FromCoin, s.ToCoin)
	if errors.Is(err, chain.ErrNotFound) {
		return e.transition(ctx, s, models.StatusProcessing, models.StatusCancelled,
			failure(fmt.Sprintf("no trading pair for %s/%s", s.FromCoin, s.ToCoin)))
	}
	if err != nil {
		return fmt.Errorf("failed to find pair: %w", err)
	}

	side := settlement.OrderSide(s.FromCoin, *sym)
	orderType := s.OrderType
	if orderType == "" {
		orderType = models.OrderTypeMarket
	}

	order, err := e.existingOrder(ctx, sym.Symbol, s.Key())
	if err != nil {
		return err
	}
	if order != nil {
		e.logger.Info("Resuming order from an earlier run",
			zap.String("record", s.Key()),
			zap.String("symbol", order.Symbol),
			zap.Int64("order_id", order.OrderID),
			zap.String("status", order.Status))
	} else {
		var reason string
		order, reason, err = e.placeOrder(ctx, s, *sym, side, orderType)
		if err != nil {
			return err
		}
		if reason != "" {
			e.logger.Warn("Order refused",
				zap.String("record", s.Key()),
				zap.String("symbol", sym.Symbol),
				zap.String("reason", reason))
			return e.transition(ctx, s, models.StatusProcessing, models.StatusCancelled, failure(reason))
		}
	}

	orderID := order.OrderID
	symbol := sym.Symbol
	qty := order.OrigQty
	patch := models.SettlementPatch{
		OrderData:       models.JSONBlob(order.Raw),
		ExchangeOrderID: &orderID,
		Symbol:          &symbol,
		Side:            &side,
		Quantity:        &qty,
	}
	if order.Price.IsPositive() {
		price := order.Price
		patch.Price = &price
	}

	switch {
	case order.Filled():
		_, _, err := e.payAndQueue(ctx, s, models.StatusProcessing, patch, settlement.PayoutAmount(s, order),
			e.manager.now().Add(e.manager.cfg.WithdrawDelay))
		return err
	case orderType == models.OrderTypeMarket:
		msg := fmt.Sprintf("market order %d ended %s", order.OrderID, order.Status)
		patch.ErrorMessage = &msg
		return e.transition(ctx, s, models.StatusProcessing, models.StatusFailed, patch)
	case order.Status == exchange.OrderStatusNew || order.Status == exchange.OrderStatusPartiallyFilled:
		return e.transition(ctx, s, models.StatusProcessing, models.StatusScheduled, patch)
	default:
		msg := fmt.Sprintf("limit order %d ended %s", order.OrderID, order.Status)
		patch.ErrorMessage = &msg
		return e.transition(ctx, s, models.StatusProcessing, models.StatusCancelled, patch)
	}
}

// existingOrder returns the order placed under clientOrderID, or nil if there is none
func (e *Executor) existingOrder(ctx context.Context, symbol, clientOrderID string) (*exchange.Order, error) {
	order, err := e.manager.exchange.GetOrderByClientID(ctx, symbol, clientOrderID)
	if errors.Is(err, chain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up order %s: %w", clientOrderID, err)
	}
	return order, nil
}

// placeOrder sizes and submits the order for s. A non-empty reason means the
// order can never be accepted and the record should be cancelled.
func (e *Executor) placeOrder(ctx context.Context, s models.Settlement, sym exchange.Symbol, side models.Side, orderType models.OrderType) (*exchange.Order, string, error) {
	if !sym.Trading() {
		return nil, settlement.CheckOrder(sym, decimal.Zero).Reason, nil
	}

	var price decimal.Decimal
	var err error
	if orderType == models.OrderTypeLimit {
		if s.Price == nil || !s.Price.IsPositive() {
			return nil, "limit order without a price", nil
		}
		price, err = settlement.LimitPrice(*s.Price, sym)
		if err != nil {
			return nil, err.Error(), nil
		}
	} else {
		price, err = e.manager.exchange.TickerPrice(ctx, sym.Symbol)
		if err != nil {
			return nil, "", fmt.Errorf("failed to get price for %s: %w", sym.Symbol, err)
		}
	}

	qty, err := settlement.OrderQuantity(side, settlement.PayoutAmount(s, nil), price, sym.StepSize)
	if err != nil {
		return nil, err.Error(), nil
	}
	if decision := settlement.CheckOrder(sym, qty); !decision.Allowed() {
		return nil, decision.Reason, nil
	}

	req := exchange.OrderRequest{
		Symbol:        sym.Symbol,
		Side:          side,
		Type:          orderType,
		Quantity:      qty,
		ClientOrderID: s.Key(),
	}
	if orderType == models.OrderTypeLimit {
		req.Price = &price
	}

	order, err := e.manager.exchange.PlaceOrder(ctx, req)
	if errors.Is(err, exchange.ErrOrderRejected) {
		return nil, fmt.Sprintf("order rejected by the exchange: %v", err), nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to place order: %w", err)
	}

	e.logger.Info("Order placed",
		zap.String("record", s.Key()),
		zap.String("symbol", order.Symbol),
		zap.Int64("order_id", order.OrderID),
		zap.String("side", string(side)),
		zap.String("quantity", qty.String()),
		zap.String("status", order.Status))

	if !order.OrigQty.IsPositive() {
		order.OrigQty = qty
	}
	if !order.Price.IsPositive() {
		order.Price = price
	}
	return order, "", nil
}

// CheckScheduled follows the limit order of a SCHEDULED record
func (e *Executor) CheckScheduled(ctx context.Context, s models.Settlement) error {
	if s.ExchangeOrderID == nil || s.Symbol == "" {
		e.logger.Warn("Scheduled record has no order", zap.String("record", s.Key()))
		return nil
	}

	order, err := e.manager.exchange.GetOrder(ctx, s.Symbol, *s.ExchangeOrderID)
	if err != nil {
		return fmt.Errorf("failed to get order %d: %w", *s.ExchangeOrderID, err)
	}

	patch := models.SettlementPatch{OrderData: models.JSONBlob(order.Raw)}
	switch {
	case order.Filled():
		e.logger.Info("Limit order filled",
			zap.String("record", s.Key()),
			zap.Int64("order_id", order.OrderID))
		_, _, err := e.payAndQueue(ctx, s, models.StatusScheduled, patch, settlement.PayoutAmount(s, order),
			e.manager.now().Add(e.manager.cfg.WithdrawDelay))
		return err
	case order.Closed():
		msg := fmt.Sprintf("limit order %d ended %s", order.OrderID, order.Status)
		patch.ErrorMessage = &msg
		return e.transition(ctx, s, models.StatusScheduled, models.StatusCancelled, patch)
	default:
		e.logger.Debug("Limit order still open",
			zap.String("record", s.Key()),
			zap.String("status", order.Status))
		return nil
	}
}

// withdrawPolicy loads the exchange's withdrawal policy for coin on network.
// An unknown coin or network yields a CANCELLED decision rather than an error.
func (e *Executor) withdrawPolicy(ctx context.Context, coin string, network models.NetworkIndex) (exchange.NetworkConfig, settlement.Decision, error) {
	asset, err := e.manager.exchange.GetAssetNetworkConfig(ctx, coin)
	if errors.Is(err, chain.ErrNotFound) {
		return exchange.NetworkConfig{}, settlement.Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("%s is not listed on the exchange", coin),
		}, nil
	}
	if err != nil {
		return exchange.NetworkConfig{}, settlement.Decision{}, fmt.Errorf("failed to load %s config: %w", coin, err)
	}
	netCfg, ok := asset.ForNetwork(network)
	if !ok {
		return exchange.NetworkConfig{}, settlement.Decision{
			Status: models.StatusCancelled,
			Reason: fmt.Sprintf("%s cannot be withdrawn on %s", coin, network),
		}, nil
	}
	return netCfg, settlement.Decision{}, nil
}

// payAndQueue moves s to PAID and enqueues its payout due at dueAt
func (e *Executor) payAndQueue(ctx context.Context, s models.Settlement, from models.Status, patch models.SettlementPatch, amount decimal.Decimal, dueAt time.Time) (*models.PendingWithdrawal, bool, error) {
	w := &models.PendingWithdrawal{
		RecordKind:      s.Kind,
		RecordID:        s.ID,
		Coin:            s.ToCoin,
		Network:         s.ToNetwork,
		Address:         s.ToAddress,
		Amount:          amount,
		WithdrawOrderID: s.Key(),
		DueAt:           dueAt,
	}
	ok, err := e.manager.store.PayAndQueueWithdrawal(ctx, s, from, patch, w)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		e.logger.Debug("Record already moved", zap.String("record", s.Key()), zap.String("from", string(from)))
		return nil, false, nil
	}

	metrics.Settlements.WithLabelValues(string(s.Kind), string(models.StatusPaid)).Inc()
	e.logger.Info("Payout queued",
		zap.String("record", s.Key()),
		zap.String("amount", amount.String()),
		zap.String("coin", w.Coin),
		zap.Time("due_at", dueAt))
	e.manager.emit(s, models.StatusPaid, "")
	return w, true, nil
}

func (e *Executor) transition(ctx context.Context, s models.Settlement, from, to models.Status, patch models.SettlementPatch) error {
	ok, err := e.manager.store.TransitionSettlement(ctx, s.Kind, s.ID, from, to, patch)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Debug("Record already moved",
			zap.String("record", s.Key()),
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return nil
	}

	reason := ""
	if patch.ErrorMessage != nil {
		reason = *patch.ErrorMessage
	}
	metrics.Settlements.WithLabelValues(string(s.Kind), string(to)).Inc()
	e.logger.Info("Record transitioned",
		zap.String("record", s.Key()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	e.manager.emit(s, to, reason)
	return nil
}

func failure(reason string) models.SettlementPatch {
	return models.SettlementPatch{ErrorMessage: &reason}
}
