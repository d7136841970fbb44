package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"payrail/internal/exchange"
	"payrail/internal/metrics"
	"payrail/internal/models"
	"payrail/internal/settlement"
)

// Monitor matches exchange deposits to pending records and drives paid records
// through settlement
type Monitor struct {
	manager *WorkerManager
	logger  *zap.Logger
}

// NewMonitor creates the deposit monitor
func NewMonitor(manager *WorkerManager) *Monitor {
	return &Monitor{
		manager: manager,
		logger:  manager.logger.Named("monitor"),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	interval := m.manager.cfg.ReconcileInterval
	m.logger.Info("Monitor started", zap.Duration("poll_interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial poll
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll executes one reconciliation cycle
func (m *Monitor) poll(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues("monitor").Observe(time.Since(start).Seconds())
	}()

	m.logger.Debug("Starting poll cycle")

	m.matchDeposits(pollCtx)
	m.settleProcessing(pollCtx)
	m.pollScheduled(pollCtx)
}

// matchDeposits moves PENDING records whose deposit arrived to PROCESSING
func (m *Monitor) matchDeposits(ctx context.Context) {
	records, err := m.manager.store.ListSettlements(ctx, models.StatusPending)
	if err != nil {
		m.logger.Error("Failed to list pending records", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	now := m.manager.now()
	window := m.manager.cfg.DepositWindow
	deposits, err := m.manager.exchange.ListRecentDeposits(ctx, now.Add(-window))
	if err != nil {
		m.logger.Error("Failed to list recent deposits", zap.Error(err))
		return
	}
	if len(deposits) == 0 {
		return
	}

	hashes := make([]string, 0, len(deposits))
	for _, d := range deposits {
		hashes = append(hashes, d.TxID)
	}
	used, err := m.manager.store.UsedDepositHashes(ctx, hashes)
	if err != nil {
		m.logger.Error("Failed to load credited deposits", zap.Error(err))
		return
	}
	fresh := make([]exchange.Deposit, 0, len(deposits))
	for _, d := range deposits {
		if !used[d.TxID] {
			fresh = append(fresh, d)
		}
	}

	m.logger.Debug("Matching deposits",
		zap.Int("pending", len(records)),
		zap.Int("deposits", len(fresh)))

	for _, match := range settlement.MatchDeposits(records, fresh, now, window) {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s := match.Record
		if len(match.Collisions) > 0 {
			m.logger.Warn("Deposit fits more than one pending record",
				zap.String("record", s.Key()),
				zap.String("tx_id", match.Deposit.TxID),
				zap.Strings("collisions", match.Collisions))
			metrics.MatchCollisions.Inc()
		}

		paid := true
		hash := match.Deposit.TxID
		ok, err := m.manager.store.TransitionSettlement(ctx, s.Kind, s.ID, models.StatusPending, models.StatusProcessing,
			models.SettlementPatch{IsPaid: &paid, Hash: &hash})
		if err != nil {
			m.logger.Error("Failed to mark deposit",
				zap.String("record", s.Key()),
				zap.String("tx_id", hash),
				zap.Error(err))
			continue
		}
		if !ok {
			m.logger.Debug("Record already left PENDING", zap.String("record", s.Key()))
			continue
		}

		metrics.DepositsMatched.Inc()
		metrics.Settlements.WithLabelValues(string(s.Kind), string(models.StatusProcessing)).Inc()
		m.logger.Info("Deposit matched",
			zap.String("record", s.Key()),
			zap.String("tx_id", hash),
			zap.String("amount", match.Deposit.Amount.String()),
			zap.String("coin", match.Deposit.Coin))

		s.Hash = hash
		s.IsPaid = true
		m.manager.emit(s, models.StatusProcessing, "")
	}
}

// settleProcessing settles every paid PROCESSING record
func (m *Monitor) settleProcessing(ctx context.Context) {
	records, err := m.manager.store.ListSettlements(ctx, models.StatusProcessing)
	if err != nil {
		m.logger.Error("Failed to list processing records", zap.Error(err))
		return
	}

	for _, s := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !s.IsPaid || s.Hash == "" {
			continue
		}
		if err := m.manager.executor.Settle(ctx, s); err != nil {
			m.logger.Error("Failed to settle record",
				zap.String("record", s.Key()),
				zap.Error(err))
		}
	}
}

// pollScheduled follows resting limit orders
func (m *Monitor) pollScheduled(ctx context.Context) {
	records, err := m.manager.store.ListSettlements(ctx, models.StatusScheduled)
	if err != nil {
		m.logger.Error("Failed to list scheduled records", zap.Error(err))
		return
	}

	for _, s := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.manager.executor.CheckScheduled(ctx, s); err != nil {
			m.logger.Error("Failed to check scheduled order",
				zap.String("record", s.Key()),
				zap.Error(err))
		}
	}
}
