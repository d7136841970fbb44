package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"payrail/internal/chain"
	"payrail/internal/exchange"
	"payrail/internal/models"
)

type storedRecord struct {
	s            models.Settlement
	orderData    models.JSONBlob
	withdrawData models.JSONBlob
	errorMessage string
	side         *models.Side
	quantity     *decimal.Decimal
}

// fakeStore is an in-memory Store with the same conditional-update semantics as the database
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*storedRecord
	order   []string
	outbox  []*models.PendingWithdrawal
	// payErr fails the next PayAndQueueWithdrawal before it touches any state
	payErr error
}

func newFakeStore(records ...models.Settlement) *fakeStore {
	f := &fakeStore{records: make(map[string]*storedRecord)}
	for _, s := range records {
		f.records[s.Key()] = &storedRecord{s: s}
		f.order = append(f.order, s.Key())
	}
	return f
}

func (f *fakeStore) record(key string) storedRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.records[key]
}

func (f *fakeStore) withdrawals() []models.PendingWithdrawal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PendingWithdrawal, 0, len(f.outbox))
	for _, w := range f.outbox {
		out = append(out, *w)
	}
	return out
}

func (f *fakeStore) ListSettlements(_ context.Context, status models.Status) ([]models.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Settlement
	for _, key := range f.order {
		if r := f.records[key]; r.s.Status == status {
			out = append(out, r.s)
		}
	}
	return out, nil
}

func (f *fakeStore) GetSettlement(_ context.Context, kind models.RecordKind, id int64) (*models.Settlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[fmt.Sprintf("%s-%d", kind, id)]
	if !ok {
		return nil, nil
	}
	s := r.s
	return &s, nil
}

func (f *fakeStore) UsedDepositHashes(_ context.Context, hashes []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	used := make(map[string]bool)
	for _, h := range hashes {
		for _, r := range f.records {
			if r.s.Hash == h {
				used[h] = true
			}
		}
	}
	return used, nil
}

func (f *fakeStore) transitionLocked(kind models.RecordKind, id int64, from, to models.Status, patch models.SettlementPatch) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	r, ok := f.records[fmt.Sprintf("%s-%d", kind, id)]
	if !ok || r.s.Status != from {
		return false, nil
	}
	r.s.Status = to
	if patch.IsPaid != nil {
		r.s.IsPaid = *patch.IsPaid
	}
	if patch.Hash != nil {
		r.s.Hash = *patch.Hash
	}
	if len(patch.OrderData) > 0 {
		r.orderData = patch.OrderData
	}
	if len(patch.WithdrawData) > 0 {
		r.withdrawData = patch.WithdrawData
	}
	if patch.ExchangeOrderID != nil {
		id := *patch.ExchangeOrderID
		r.s.ExchangeOrderID = &id
	}
	if patch.Symbol != nil {
		r.s.Symbol = *patch.Symbol
	}
	if patch.Price != nil {
		p := *patch.Price
		r.s.Price = &p
	}
	if patch.Side != nil {
		r.side = patch.Side
	}
	if patch.Quantity != nil {
		r.quantity = patch.Quantity
	}
	if patch.ErrorMessage != nil {
		r.errorMessage = *patch.ErrorMessage
	}
	return true, nil
}

func (f *fakeStore) TransitionSettlement(_ context.Context, kind models.RecordKind, id int64, from, to models.Status, patch models.SettlementPatch) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transitionLocked(kind, id, from, to, patch)
}

func (f *fakeStore) PayAndQueueWithdrawal(_ context.Context, s models.Settlement, from models.Status, patch models.SettlementPatch, w *models.PendingWithdrawal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.payErr; err != nil {
		f.payErr = nil
		return false, err
	}
	ok, err := f.transitionLocked(s.Kind, s.ID, from, models.StatusPaid, patch)
	if err != nil || !ok {
		return false, err
	}
	for _, existing := range f.outbox {
		if existing.WithdrawOrderID == w.WithdrawOrderID {
			return false, fmt.Errorf("duplicate withdraw order id %s", w.WithdrawOrderID)
		}
	}
	w.ID = int64(len(f.outbox) + 1)
	w.Status = models.OutboxPending
	w.Attempts = 0
	row := *w
	f.outbox = append(f.outbox, &row)
	return true, nil
}

func (f *fakeStore) row(id int64) *models.PendingWithdrawal {
	for _, w := range f.outbox {
		if w.ID == id {
			return w
		}
	}
	return nil
}

func (f *fakeStore) ClaimWithdrawal(_ context.Context, id int64, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.row(id)
	if w == nil || w.Status != models.OutboxPending {
		return false, nil
	}
	w.Status = models.OutboxRunning
	w.Attempts++
	w.ClaimedAt = &now
	return true, nil
}

func (f *fakeStore) ClaimDueWithdrawals(_ context.Context, now time.Time, lease time.Duration, limit int) ([]models.PendingWithdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PendingWithdrawal
	for _, w := range f.outbox {
		if len(out) == limit {
			break
		}
		due := w.Status == models.OutboxPending && !w.DueAt.After(now)
		stale := w.Status == models.OutboxRunning && w.ClaimedAt != nil && w.ClaimedAt.Before(now.Add(-lease))
		if !due && !stale {
			continue
		}
		claimed := now
		w.Status = models.OutboxRunning
		w.Attempts++
		w.ClaimedAt = &claimed
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeStore) closeRow(w models.PendingWithdrawal, status models.OutboxStatus, lastErr string, to models.Status, patch models.SettlementPatch) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.row(w.ID)
	if row == nil || row.Status != models.OutboxRunning {
		return false, nil
	}
	row.Status = status
	if lastErr != "" {
		row.LastError = &lastErr
	}
	return f.transitionLocked(w.RecordKind, w.RecordID, models.StatusPaid, to, patch)
}

func (f *fakeStore) CompleteWithdrawal(_ context.Context, w models.PendingWithdrawal, withdrawData models.JSONBlob) (bool, error) {
	return f.closeRow(w, models.OutboxDone, "", models.StatusCompleted, models.SettlementPatch{WithdrawData: withdrawData})
}

func (f *fakeStore) RejectWithdrawal(_ context.Context, w models.PendingWithdrawal, reason string) (bool, error) {
	return f.closeRow(w, models.OutboxFailed, reason, models.StatusFailed, models.SettlementPatch{ErrorMessage: &reason})
}

func (f *fakeStore) RetryWithdrawal(_ context.Context, id int64, lastErr string, dueAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w := f.row(id); w != nil && w.Status == models.OutboxRunning {
		w.Status = models.OutboxPending
		w.LastError = &lastErr
		w.DueAt = dueAt
		w.ClaimedAt = nil
	}
	return nil
}

func (f *fakeStore) FailWithdrawal(_ context.Context, id int64, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w := f.row(id); w != nil && w.Status == models.OutboxRunning {
		w.Status = models.OutboxFailed
		w.LastError = &lastErr
	}
	return nil
}

// fakeExchange simulates the exchange account
type fakeExchange struct {
	mu          sync.Mutex
	deposits    []exchange.Deposit
	assets      map[string]exchange.AssetConfig
	symbols     []exchange.Symbol
	price       decimal.Decimal
	orderStatus string
	orders      map[int64]*exchange.Order
	placed      []exchange.OrderRequest
	withdrawn   []exchange.WithdrawRequest
	withdrawErr error
	placeErr    error
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		assets:      make(map[string]exchange.AssetConfig),
		orders:      make(map[int64]*exchange.Order),
		orderStatus: exchange.OrderStatusFilled,
	}
}

func (f *fakeExchange) withdrawals() []exchange.WithdrawRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]exchange.WithdrawRequest(nil), f.withdrawn...)
}

// fill completes a resting order at its limit price
func (f *fakeExchange) fill(orderID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o := f.orders[orderID]
	o.Status = exchange.OrderStatusFilled
	o.ExecutedQty = o.OrigQty
	o.CummulativeQuoteQty = o.OrigQty.Mul(o.Price)
}

func (f *fakeExchange) setOrderStatus(orderID int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID].Status = status
}

func (f *fakeExchange) ListRecentDeposits(_ context.Context, since time.Time) ([]exchange.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []exchange.Deposit
	for _, d := range f.deposits {
		if d.InsertTime >= since.UnixMilli() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeExchange) FindDeposit(_ context.Context, txID string) (*exchange.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.deposits {
		if d.TxID == txID {
			d := d
			return &d, nil
		}
	}
	return nil, fmt.Errorf("deposit %s: %w", txID, chain.ErrNotFound)
}

func (f *fakeExchange) GetAssetNetworkConfig(_ context.Context, asset string) (*exchange.AssetConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.assets[strings.ToUpper(asset)]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", asset, chain.ErrNotFound)
	}
	return &cfg, nil
}

func (f *fakeExchange) FindPair(_ context.Context, a, b string) (*exchange.Symbol, error) {
	for _, s := range f.symbols {
		if s.HasAsset(a) && s.HasAsset(b) {
			s := s
			return &s, nil
		}
	}
	return nil, fmt.Errorf("pair %s/%s: %w", a, b, chain.ErrNotFound)
}

func (f *fakeExchange) TickerPrice(context.Context, string) (decimal.Decimal, error) {
	return f.price, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req exchange.OrderRequest) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)

	price := f.price
	if req.Price != nil {
		price = *req.Price
	}
	o := &exchange.Order{
		Symbol:        req.Symbol,
		OrderID:       int64(100 + len(f.placed)),
		ClientOrderID: req.ClientOrderID,
		Price:         price,
		OrigQty:       req.Quantity,
		Status:        f.orderStatus,
		Type:          string(req.Type),
		Side:          string(req.Side),
	}
	if o.Status == exchange.OrderStatusFilled {
		o.ExecutedQty = req.Quantity
		o.CummulativeQuoteQty = req.Quantity.Mul(price)
	}
	f.orders[o.OrderID] = o
	out := *o
	out.Raw, _ = json.Marshal(map[string]interface{}{"orderId": o.OrderID, "status": o.Status})
	return &out, nil
}

func (f *fakeExchange) GetOrder(_ context.Context, symbol string, orderID int64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.Symbol != symbol {
		return nil, fmt.Errorf("order %d: %w", orderID, chain.ErrNotFound)
	}
	out := *o
	out.Raw, _ = json.Marshal(map[string]interface{}{"orderId": o.OrderID, "status": o.Status})
	return &out, nil
}

func (f *fakeExchange) GetOrderByClientID(_ context.Context, symbol, clientOrderID string) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.Symbol == symbol && o.ClientOrderID == clientOrderID {
			out := *o
			out.Raw, _ = json.Marshal(map[string]interface{}{"orderId": o.OrderID, "status": o.Status})
			return &out, nil
		}
	}
	return nil, fmt.Errorf("order %s: %w", clientOrderID, chain.ErrNotFound)
}

func (f *fakeExchange) Withdraw(_ context.Context, req exchange.WithdrawRequest) (*exchange.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.withdrawErr != nil {
		return nil, f.withdrawErr
	}
	f.withdrawn = append(f.withdrawn, req)
	id := fmt.Sprintf("wd-%d", len(f.withdrawn))
	return &exchange.Withdrawal{ID: id, Raw: json.RawMessage(`{"id":"` + id + `"}`)}, nil
}

type event struct {
	connectionID string
	name         string
	payload      StatusEvent
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []event
}

func (f *fakeNotifier) Emit(connectionID, name string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev := event{connectionID: connectionID, name: name}
	if s, ok := payload.(StatusEvent); ok {
		ev.payload = s
	}
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) statuses(connectionID string) []models.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Status
	for _, ev := range f.events {
		if ev.connectionID == connectionID && ev.name == "status" {
			out = append(out, ev.payload.Status)
		}
	}
	return out
}
