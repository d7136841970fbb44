package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"payrail/internal/models"
)

const outboxColumns = `
	id, record_kind, record_id, coin, network, address, amount, withdraw_order_id,
	due_at, status, attempts, last_error, claimed_at, created_at
`

// errLostRace aborts a transaction whose conditional update matched nothing
var errLostRace = errors.New("record changed concurrently")

// PayAndQueueWithdrawal moves a record to PAID and enqueues its payout in one
// transaction. It reports false, writing nothing, when the record left from.
func (db *DB) PayAndQueueWithdrawal(ctx context.Context, s models.Settlement, from models.Status, patch models.SettlementPatch, w *models.PendingWithdrawal) (bool, error) {
	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		ok, err := transition(ctx, tx, s.Kind, s.ID, from, models.StatusPaid, patch)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}
		query := `
			INSERT INTO withdrawal_outbox (
				record_kind, record_id, coin, network, address, amount, withdraw_order_id, due_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, status, attempts, created_at
		`
		return tx.QueryRowxContext(
			ctx, query,
			w.RecordKind, w.RecordID, w.Coin, w.Network, w.Address, w.Amount, w.WithdrawOrderID, w.DueAt,
		).Scan(&w.ID, &w.Status, &w.Attempts, &w.CreatedAt)
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to queue withdrawal for %s: %w", s.Key(), err)
	}
	return true, nil
}

// ClaimWithdrawal takes a PENDING row for execution. It reports false when another
// runner already holds it.
func (db *DB) ClaimWithdrawal(ctx context.Context, id int64, now time.Time) (bool, error) {
	query := `
		UPDATE withdrawal_outbox
		SET status = 'RUNNING', attempts = attempts + 1, claimed_at = $2
		WHERE id = $1 AND status = 'PENDING'
	`
	res, err := db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimDueWithdrawals claims up to limit rows that are due, plus RUNNING rows whose
// claim is older than lease.
func (db *DB) ClaimDueWithdrawals(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]models.PendingWithdrawal, error) {
	var rows []models.PendingWithdrawal
	query := `
		UPDATE withdrawal_outbox
		SET status = 'RUNNING', attempts = attempts + 1, claimed_at = $1
		WHERE id IN (
			SELECT id FROM withdrawal_outbox
			WHERE (status = 'PENDING' AND due_at <= $1)
			   OR (status = 'RUNNING' AND claimed_at < $2)
			ORDER BY due_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns
	err := db.SelectContext(ctx, &rows, query, now, now.Add(-lease), limit)
	return rows, err
}

// CompleteWithdrawal closes the outbox row and moves its record PAID -> COMPLETED.
func (db *DB) CompleteWithdrawal(ctx context.Context, w models.PendingWithdrawal, withdrawData models.JSONBlob) (bool, error) {
	return db.closeWithdrawal(ctx, w, models.OutboxDone, "", models.StatusCompleted, models.SettlementPatch{WithdrawData: withdrawData})
}

// RejectWithdrawal closes the outbox row and fails its record with reason
func (db *DB) RejectWithdrawal(ctx context.Context, w models.PendingWithdrawal, reason string) (bool, error) {
	return db.closeWithdrawal(ctx, w, models.OutboxFailed, reason, models.StatusFailed, models.SettlementPatch{ErrorMessage: &reason})
}

func (db *DB) closeWithdrawal(ctx context.Context, w models.PendingWithdrawal, outbox models.OutboxStatus, lastErr string, to models.Status, patch models.SettlementPatch) (bool, error) {
	var moved bool
	err := db.InTransaction(ctx, func(tx *sqlx.Tx) error {
		query := `
			UPDATE withdrawal_outbox
			SET status = $2, last_error = $3
			WHERE id = $1 AND status = 'RUNNING'
		`
		res, err := tx.ExecContext(ctx, query, w.ID, outbox, nullString(lastErr))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n != 1 {
			return errLostRace
		}
		moved, err = transition(ctx, tx, w.RecordKind, w.RecordID, models.StatusPaid, to, patch)
		return err
	})
	if errors.Is(err, errLostRace) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to close withdrawal %s: %w", w.WithdrawOrderID, err)
	}
	return moved, nil
}

// RetryWithdrawal releases a claimed row to run again at dueAt
func (db *DB) RetryWithdrawal(ctx context.Context, id int64, lastErr string, dueAt time.Time) error {
	query := `
		UPDATE withdrawal_outbox
		SET status = 'PENDING', last_error = $2, due_at = $3, claimed_at = NULL
		WHERE id = $1 AND status = 'RUNNING'
	`
	_, err := db.ExecContext(ctx, query, id, lastErr, dueAt)
	return err
}

// FailWithdrawal gives up on a row. The record keeps its status.
func (db *DB) FailWithdrawal(ctx context.Context, id int64, lastErr string) error {
	query := `
		UPDATE withdrawal_outbox
		SET status = 'FAILED', last_error = $2
		WHERE id = $1 AND status = 'RUNNING'
	`
	_, err := db.ExecContext(ctx, query, id, lastErr)
	return err
}
