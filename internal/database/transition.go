package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"payrail/internal/models"
)

func recordTable(kind models.RecordKind) (string, error) {
	switch kind {
	case models.RecordKindPayment:
		return "payment_requests", nil
	case models.RecordKindSpot:
		return "spot_orders", nil
	}
	return "", fmt.Errorf("unknown record kind %q", kind)
}

// transitionQuery builds the conditional update. $1 is the id, $2 the expected
// status, $3 the new status; patched columns follow in a fixed order.
// side and quantity exist on spot orders only.
func transitionQuery(kind models.RecordKind, patch models.SettlementPatch) (string, []interface{}, error) {
	table, err := recordTable(kind)
	if err != nil {
		return "", nil, err
	}

	sets := []string{"status = $3", "updated_at = NOW()"}
	var args []interface{}
	add := func(column string, value interface{}) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+3))
	}

	if patch.IsPaid != nil {
		add("is_paid", *patch.IsPaid)
	}
	if patch.Hash != nil {
		add("hash", *patch.Hash)
	}
	if len(patch.OrderData) > 0 {
		add("order_data", patch.OrderData)
	}
	if len(patch.WithdrawData) > 0 {
		add("withdraw_data", patch.WithdrawData)
	}
	if patch.ExchangeOrderID != nil {
		add("exchange_order_id", *patch.ExchangeOrderID)
	}
	if patch.Symbol != nil {
		add("symbol", *patch.Symbol)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if kind == models.RecordKindSpot {
		if patch.Side != nil {
			add("side", string(*patch.Side))
		}
		if patch.Quantity != nil {
			add("quantity", *patch.Quantity)
		}
	}
	if patch.ErrorMessage != nil {
		add("error_message", *patch.ErrorMessage)
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $1 AND status = $2", table, strings.Join(sets, ", "))
	return query, args, nil
}

func transition(ctx context.Context, ex sqlx.ExecerContext, kind models.RecordKind, id int64, from, to models.Status, patch models.SettlementPatch) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	query, args, err := transitionQuery(kind, patch)
	if err != nil {
		return false, err
	}
	res, err := ex.ExecContext(ctx, query, append([]interface{}{id, from, to}, args...)...)
	if err != nil {
		return false, fmt.Errorf("failed to update %s-%d: %w", kind, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
