package worker

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"payrail/internal/chain"
	"payrail/internal/exchange"
	"payrail/internal/metrics"
	"payrail/internal/models"
	"payrail/internal/settlement"
)

// Outbox executes queued withdrawals. It also recovers rows whose runner died
// mid-flight once their claim lease expires.
type Outbox struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewOutbox creates the withdrawal runner
func NewOutbox(manager *WorkerManager) *Outbox {
	return &Outbox{
		manager: manager,
		logger:  manager.logger.Named("outbox"),
	}
}

// Run starts the outbox polling loop
func (o *Outbox) Run(ctx context.Context) {
	interval := o.manager.cfg.OutboxInterval
	o.logger.Info("Outbox started", zap.Duration("poll_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Outbox stopping")
			return
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

func (o *Outbox) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, OutboxTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues("outbox").Observe(time.Since(start).Seconds())
	}()

	rows, err := o.manager.store.ClaimDueWithdrawals(pollCtx, o.manager.now(), o.manager.cfg.OutboxLease, OutboxBatch)
	if err != nil {
		o.logger.Error("Failed to claim withdrawals", zap.Error(err))
		return
	}

	for _, w := range rows {
		select {
		case <-pollCtx.Done():
			return
		default:
		}
		o.execute(pollCtx, w)
	}
}

// RunNow claims and executes one row immediately. A row another runner holds is skipped.
func (o *Outbox) RunNow(ctx context.Context, w models.PendingWithdrawal) {
	ok, err := o.manager.store.ClaimWithdrawal(ctx, w.ID, o.manager.now())
	if err != nil {
		o.logger.Error("Failed to claim withdrawal",
			zap.String("withdraw_order_id", w.WithdrawOrderID),
			zap.Error(err))
		return
	}
	if !ok {
		o.logger.Debug("Withdrawal already claimed", zap.String("withdraw_order_id", w.WithdrawOrderID))
		return
	}
	w.Status = models.OutboxRunning
	w.Attempts++
	o.execute(ctx, w)
}

func (o *Outbox) execute(ctx context.Context, w models.PendingWithdrawal) {
	logger := o.logger.With(
		zap.String("withdraw_order_id", w.WithdrawOrderID),
		zap.Int("attempt", w.Attempts))

	asset, err := o.manager.exchange.GetAssetNetworkConfig(ctx, w.Coin)
	if errors.Is(err, chain.ErrNotFound) {
		o.reject(ctx, w, w.Coin+" is not listed on the exchange")
		return
	}
	if err != nil {
		o.retry(ctx, w, err)
		return
	}
	netCfg, ok := asset.ForNetwork(w.Network)
	if !ok {
		o.reject(ctx, w, w.Coin+" cannot be withdrawn on "+string(w.Network))
		return
	}

	amount := settlement.WithdrawAmount(netCfg, w.Amount)
	if decision := settlement.CheckWithdrawLimits(netCfg, amount); !decision.Allowed() {
		o.reject(ctx, w, decision.Reason)
		return
	}

	res, err := o.manager.exchange.Withdraw(ctx, exchange.WithdrawRequest{
		Coin:            w.Coin,
		Network:         w.Network.ExchangeNetwork(),
		Address:         w.Address,
		Amount:          amount,
		WithdrawOrderID: w.WithdrawOrderID,
	})
	if err != nil {
		o.retry(ctx, w, err)
		return
	}

	logger.Info("Withdrawal submitted",
		zap.String("id", res.ID),
		zap.String("amount", amount.String()),
		zap.String("coin", w.Coin),
		zap.String("network", string(w.Network)))

	moved, err := o.manager.store.CompleteWithdrawal(ctx, w, models.JSONBlob(res.Raw))
	if err != nil {
		// the exchange dedupes on withdrawOrderId, so a lease retry is harmless
		logger.Error("Failed to record completed withdrawal", zap.Error(err))
		return
	}
	metrics.OutboxExecutions.WithLabelValues("done").Inc()
	if moved {
		metrics.Settlements.WithLabelValues(string(w.RecordKind), string(models.StatusCompleted)).Inc()
		o.notify(ctx, w, models.StatusCompleted, "")
	}
}

// reject fails the record for a business reason. Retrying would not help.
func (o *Outbox) reject(ctx context.Context, w models.PendingWithdrawal, reason string) {
	o.logger.Warn("Withdrawal rejected",
		zap.String("withdraw_order_id", w.WithdrawOrderID),
		zap.String("reason", reason))

	moved, err := o.manager.store.RejectWithdrawal(ctx, w, reason)
	if err != nil {
		o.logger.Error("Failed to record rejected withdrawal",
			zap.String("withdraw_order_id", w.WithdrawOrderID),
			zap.Error(err))
		return
	}
	metrics.OutboxExecutions.WithLabelValues("rejected").Inc()
	if moved {
		metrics.Settlements.WithLabelValues(string(w.RecordKind), string(models.StatusFailed)).Inc()
		o.notify(ctx, w, models.StatusFailed, reason)
	}
}

// retry reschedules a transient failure with exponential backoff, giving up
// after MaxRetries attempts. A given-up row leaves its record PAID.
func (o *Outbox) retry(ctx context.Context, w models.PendingWithdrawal, cause error) {
	if w.Attempts >= o.manager.cfg.MaxRetries {
		o.logger.Error("Withdrawal failed permanently, record left PAID",
			zap.String("withdraw_order_id", w.WithdrawOrderID),
			zap.Int("attempts", w.Attempts),
			zap.Error(cause))
		if err := o.manager.store.FailWithdrawal(ctx, w.ID, cause.Error()); err != nil {
			o.logger.Error("Failed to mark withdrawal failed", zap.Error(err))
		}
		metrics.OutboxExecutions.WithLabelValues("failed").Inc()
		return
	}

	delay := retryDelay(o.manager.cfg.BaseRetryDelay, w.Attempts)
	o.logger.Warn("Withdrawal attempt failed, retrying",
		zap.String("withdraw_order_id", w.WithdrawOrderID),
		zap.Int("attempts", w.Attempts),
		zap.Duration("retry_in", delay),
		zap.Error(cause))
	if err := o.manager.store.RetryWithdrawal(ctx, w.ID, cause.Error(), o.manager.now().Add(delay)); err != nil {
		o.logger.Error("Failed to reschedule withdrawal", zap.Error(err))
	}
	metrics.OutboxExecutions.WithLabelValues("retry").Inc()
}

func (o *Outbox) notify(ctx context.Context, w models.PendingWithdrawal, status models.Status, reason string) {
	s, err := o.manager.store.GetSettlement(ctx, w.RecordKind, w.RecordID)
	if err != nil || s == nil {
		o.logger.Debug("Cannot load record for notification",
			zap.String("withdraw_order_id", w.WithdrawOrderID),
			zap.Error(err))
		return
	}
	o.manager.emit(*s, status, reason)
}

// retryDelay returns base * 2^(attempt-1), capped at base * 2^15
func retryDelay(base time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = base << 15
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < min(attempt, 16); i++ {
		delay = b.NextBackOff()
	}
	return delay
}
