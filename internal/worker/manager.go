package worker

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"payrail/internal/config"
	"payrail/internal/exchange"
	"payrail/internal/models"
	"payrail/internal/notify"
)

const (
	MonitorTimeout = 30 * time.Second
	OutboxTimeout  = 30 * time.Second
	OutboxBatch    = 20
)

// Store is the persistence the reconciliation jobs need
type Store interface {
	ListSettlements(ctx context.Context, status models.Status) ([]models.Settlement, error)
	GetSettlement(ctx context.Context, kind models.RecordKind, id int64) (*models.Settlement, error)
	UsedDepositHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	TransitionSettlement(ctx context.Context, kind models.RecordKind, id int64, from, to models.Status, patch models.SettlementPatch) (bool, error)
	PayAndQueueWithdrawal(ctx context.Context, s models.Settlement, from models.Status, patch models.SettlementPatch, w *models.PendingWithdrawal) (bool, error)
	ClaimWithdrawal(ctx context.Context, id int64, now time.Time) (bool, error)
	ClaimDueWithdrawals(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.PendingWithdrawal, error)
	CompleteWithdrawal(ctx context.Context, w models.PendingWithdrawal, withdrawData models.JSONBlob) (bool, error)
	RejectWithdrawal(ctx context.Context, w models.PendingWithdrawal, reason string) (bool, error)
	RetryWithdrawal(ctx context.Context, id int64, lastErr string, dueAt time.Time) error
	FailWithdrawal(ctx context.Context, id int64, lastErr string) error
}

// Exchange is the subset of the exchange client used to settle records
type Exchange interface {
	ListRecentDeposits(ctx context.Context, since time.Time) ([]exchange.Deposit, error)
	FindDeposit(ctx context.Context, txID string) (*exchange.Deposit, error)
	GetAssetNetworkConfig(ctx context.Context, asset string) (*exchange.AssetConfig, error)
	FindPair(ctx context.Context, a, b string) (*exchange.Symbol, error)
	TickerPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.Order, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*exchange.Order, error)
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*exchange.Order, error)
	Withdraw(ctx context.Context, req exchange.WithdrawRequest) (*exchange.Withdrawal, error)
}

// WorkerManager runs the deposit monitor and the withdrawal outbox
type WorkerManager struct {
	store    Store
	exchange Exchange
	notifier notify.Notifier
	cfg      config.WorkerConfig
	logger   *zap.Logger
	now      func() time.Time

	monitor  *Monitor
	executor *Executor
	outbox   *Outbox

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager wires the reconciliation jobs
func NewWorkerManager(store Store, exch Exchange, notifier notify.Notifier, cfg config.WorkerConfig, logger *zap.Logger) *WorkerManager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())

	wm := &WorkerManager{
		store:    store,
		exchange: exch,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.Named("worker"),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}

	wm.outbox = NewOutbox(wm)
	wm.executor = NewExecutor(wm)
	wm.monitor = NewMonitor(wm)

	return wm
}

// Start starts the worker goroutines
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Duration("reconcile_interval", wm.cfg.ReconcileInterval),
		zap.Duration("outbox_interval", wm.cfg.OutboxInterval))

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.monitor.Run(wm.ctx)
	}()

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.outbox.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown stops the workers, waiting at most timeout for the current cycle
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out")
	}

	return nil
}

// StatusEvent is pushed to the record's websocket after every transition
type StatusEvent struct {
	Kind         models.RecordKind `json:"kind"`
	ID           int64             `json:"id"`
	Status       models.Status     `json:"status"`
	Hash         string            `json:"hash,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

func (wm *WorkerManager) emit(s models.Settlement, status models.Status, reason string) {
	wm.notifier.Emit(s.SocketID, "status", StatusEvent{
		Kind:         s.Kind,
		ID:           s.ID,
		Status:       status,
		Hash:         s.Hash,
		ErrorMessage: reason,
	})
}
