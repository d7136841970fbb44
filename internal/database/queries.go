package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"payrail/internal/models"
)

// ==================== Network Queries ====================

// FindActiveNetworks returns the networks wallets are created on
func (db *DB) FindActiveNetworks(ctx context.Context) ([]models.Network, error) {
	var networks []models.Network
	query := `
		SELECT id, network_index, name, symbol, decimals, is_active
		FROM networks
		WHERE is_active
		ORDER BY id
	`
	err := db.SelectContext(ctx, &networks, query)
	return networks, err
}

// ==================== Wallet Queries ====================

// CreateWallet stores a derived address. An existing (user, network) pair is left as is.
func (db *DB) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	query := `
		INSERT INTO wallets (user_id, address, network)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, network) DO NOTHING
		RETURNING id, created_at
	`
	err := db.QueryRowxContext(ctx, query, wallet.UserID, wallet.Address, wallet.Network).
		Scan(&wallet.ID, &wallet.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// FindWallet retrieves the wallet of a user on one network
func (db *DB) FindWallet(ctx context.Context, userID string, network models.NetworkIndex) (*models.Wallet, error) {
	var wallet models.Wallet
	query := `
		SELECT id, user_id, address, network, created_at
		FROM wallets
		WHERE user_id = $1 AND network = $2
	`
	err := db.GetContext(ctx, &wallet, query, userID, network)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &wallet, err
}

// WalletExists reports whether the user already owns address
func (db *DB) WalletExists(ctx context.Context, userID, address string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM wallets WHERE user_id = $1 AND address = $2)`
	err := db.GetContext(ctx, &exists, query, userID, address)
	return exists, err
}

// ==================== Token Queries ====================

// FindToken retrieves a token by symbol on one network
func (db *DB) FindToken(ctx context.Context, symbol string, network models.NetworkIndex) (*models.Token, error) {
	var token models.Token
	query := `
		SELECT id, contract, decimals, network, symbol
		FROM tokens
		WHERE UPPER(symbol) = UPPER($1) AND network = $2
	`
	err := db.GetContext(ctx, &token, query, symbol, network)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &token, err
}

// FindTokenByID retrieves a token by primary key
func (db *DB) FindTokenByID(ctx context.Context, id int64) (*models.Token, error) {
	var token models.Token
	query := `SELECT id, contract, decimals, network, symbol FROM tokens WHERE id = $1`
	err := db.GetContext(ctx, &token, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &token, err
}

// ListTokensByNetwork returns every token known on a network
func (db *DB) ListTokensByNetwork(ctx context.Context, network models.NetworkIndex) ([]models.Token, error) {
	var tokens []models.Token
	query := `
		SELECT id, contract, decimals, network, symbol
		FROM tokens
		WHERE network = $1
		ORDER BY id
	`
	err := db.SelectContext(ctx, &tokens, query, network)
	return tokens, err
}

// ==================== Payment Request Queries ====================

// CreatePaymentRequest inserts a request in PENDING
func (db *DB) CreatePaymentRequest(ctx context.Context, p *models.PaymentRequest) error {
	query := `
		INSERT INTO payment_requests (
			user_id, ref_id, network, token_id, amount, fee, exchange_type,
			to_network, to_token_id, to_address, order_type, price
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, status, created_at, updated_at
	`
	return db.QueryRowxContext(
		ctx, query,
		p.UserID, p.RefID, p.Network, p.TokenID, p.Amount, p.Fee, p.ExchangeType,
		p.ToNetwork, p.ToTokenID, p.ToAddress, p.OrderType, p.Price,
	).Scan(&p.ID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
}

// GetPaymentRequest retrieves a request by id
func (db *DB) GetPaymentRequest(ctx context.Context, id int64) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := db.GetContext(ctx, &p, `SELECT * FROM payment_requests WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &p, err
}

// PendingRefIDInUse reports whether another pending request on network already waits for refID
func (db *DB) PendingRefIDInUse(ctx context.Context, network models.NetworkIndex, refID string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (
			SELECT 1 FROM payment_requests
			WHERE network = $1 AND ref_id = $2 AND status = 'PENDING'
		)
	`
	err := db.GetContext(ctx, &exists, query, network, refID)
	return exists, err
}

// UsedDepositHashes returns the subset of hashes already credited to a record
func (db *DB) UsedDepositHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	used := make(map[string]bool)
	if len(hashes) == 0 {
		return used, nil
	}
	var found []string
	query := `
		SELECT hash FROM payment_requests WHERE hash = ANY($1)
		UNION
		SELECT hash FROM spot_orders WHERE hash = ANY($1)
	`
	if err := db.SelectContext(ctx, &found, query, pq.Array(hashes)); err != nil {
		return nil, err
	}
	for _, h := range found {
		used[h] = true
	}
	return used, nil
}

// ==================== Spot Order Queries ====================

// CreateSpotOrder inserts an order in PENDING
func (db *DB) CreateSpotOrder(ctx context.Context, o *models.SpotMarketOrder) error {
	query := `
		INSERT INTO spot_orders (
			user_id, ref_id, order_type, from_network, to_network, from_coin, to_coin,
			amount, exchange_type, price, to_address
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, status, created_at, updated_at
	`
	return db.QueryRowxContext(
		ctx, query,
		o.UserID, o.RefID, o.OrderType, o.FromNetwork, o.ToNetwork, o.FromCoin, o.ToCoin,
		o.Amount, o.ExchangeType, o.Price, o.ToAddress,
	).Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
}

// GetSpotOrder retrieves an order by id
func (db *DB) GetSpotOrder(ctx context.Context, id int64) (*models.SpotMarketOrder, error) {
	var o models.SpotMarketOrder
	err := db.GetContext(ctx, &o, `SELECT * FROM spot_orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return &o, err
}

// ==================== Settlement Queries ====================

type paymentRow struct {
	models.PaymentRequest
	FromToken sql.NullString `db:"from_token"`
	ToToken   sql.NullString `db:"to_token"`
}

func (r paymentRow) settlement() models.Settlement {
	return r.PaymentRequest.Settlement(r.FromToken.String, r.ToToken.String)
}

const paymentSelect = `
	SELECT p.*, ft.symbol AS from_token, tt.symbol AS to_token
	FROM payment_requests p
	LEFT JOIN tokens ft ON ft.id = p.token_id
	LEFT JOIN tokens tt ON tt.id = p.to_token_id
`

// ListSettlements returns payment requests then spot orders in status, oldest first
func (db *DB) ListSettlements(ctx context.Context, status models.Status) ([]models.Settlement, error) {
	var payments []paymentRow
	if err := db.SelectContext(ctx, &payments, paymentSelect+` WHERE p.status = $1 ORDER BY p.id`, status); err != nil {
		return nil, fmt.Errorf("failed to list payment requests: %w", err)
	}

	var orders []models.SpotMarketOrder
	if err := db.SelectContext(ctx, &orders, `SELECT * FROM spot_orders WHERE status = $1 ORDER BY id`, status); err != nil {
		return nil, fmt.Errorf("failed to list spot orders: %w", err)
	}

	out := make([]models.Settlement, 0, len(payments)+len(orders))
	for _, p := range payments {
		out = append(out, p.settlement())
	}
	for _, o := range orders {
		out = append(out, o.Settlement())
	}
	return out, nil
}

// GetSettlement loads one record of either kind
func (db *DB) GetSettlement(ctx context.Context, kind models.RecordKind, id int64) (*models.Settlement, error) {
	switch kind {
	case models.RecordKindPayment:
		var p paymentRow
		err := db.GetContext(ctx, &p, paymentSelect+` WHERE p.id = $1`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		s := p.settlement()
		return &s, nil
	case models.RecordKindSpot:
		o, err := db.GetSpotOrder(ctx, id)
		if err != nil || o == nil {
			return nil, err
		}
		s := o.Settlement()
		return &s, nil
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

// SetSocketID remembers the websocket connection that watches a record
func (db *DB) SetSocketID(ctx context.Context, kind models.RecordKind, id int64, socketID string) error {
	table, err := recordTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET socket_id = $2 WHERE id = $1`, table)
	_, err = db.ExecContext(ctx, query, id, nullString(socketID))
	return err
}

// TransitionSettlement moves a record from one status to another together with the
// patched columns. It reports false when the record was no longer in from.
func (db *DB) TransitionSettlement(ctx context.Context, kind models.RecordKind, id int64, from, to models.Status, patch models.SettlementPatch) (bool, error) {
	return transition(ctx, db, kind, id, from, to, patch)
}
