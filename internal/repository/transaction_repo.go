package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

const transactionColumns = `
	internal_id, provider_deposit_id, deposit_status, deposit_amount, settled_amount,
	order_id, order_status, product_code, product_type, product_price, target,
	provider, profit, created_at, updated_at`

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

// Create inserts a new ledger entry
func (r *TransactionRepository) Create(ctx context.Context, t *models.Transaction) error {
	query := `
		INSERT INTO storefront.transactions (
			internal_id, provider_deposit_id, deposit_status, deposit_amount, settled_amount,
			order_id, order_status, product_code, product_type, product_price, target,
			provider, profit
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		t.InternalID, t.ProviderDepositID, t.DepositStatus, t.DepositAmount, t.SettledAmount,
		t.OrderID, t.OrderStatus, t.ProductCode, t.ProductType, t.ProductPrice, t.Target,
		t.Provider, t.Profit,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert transaction: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a ledger entry by internal id
func (r *TransactionRepository) GetByID(ctx context.Context, internalID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM storefront.transactions WHERE internal_id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, internalID))
}

// Advance moves a pending entry to status and records the transition with the
// provider payload. Entries that already left pending are returned untouched
// with changed=false.
func (r *TransactionRepository) Advance(ctx context.Context, internalID string, status models.DepositStatus, settled *int64, payload []byte) (txn *models.Transaction, changed bool, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanTransaction(tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM storefront.transactions WHERE internal_id = $1 FOR UPDATE`, internalID))
	if err != nil {
		return nil, false, err
	}
	if current.DepositStatus != models.DepositPending || status == models.DepositPending {
		return current, false, nil
	}

	updated, err := scanTransaction(tx.QueryRow(ctx, `
		UPDATE storefront.transactions
		SET deposit_status = $2, settled_amount = $3, updated_at = now()
		WHERE internal_id = $1 AND deposit_status = 'pending'
		RETURNING `+transactionColumns,
		internalID, status, settled,
	))
	if err != nil {
		return nil, false, fmt.Errorf("update transaction status: %w", err)
	}

	var eventPayload any
	if len(payload) > 0 {
		eventPayload = string(payload)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO storefront.transaction_events (internal_id, from_status, to_status, payload)
		VALUES ($1, $2, $3, $4::jsonb)`,
		internalID, current.DepositStatus, status, eventPayload,
	); err != nil {
		return nil, false, fmt.Errorf("insert transaction event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return updated, true, nil
}

// List returns ledger entries newest first
func (r *TransactionRepository) List(ctx context.Context, filter models.TransactionFilter) ([]*models.Transaction, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("deposit_status = $%d", len(args)))
	}
	if filter.Provider != "" {
		args = append(args, filter.Provider)
		conds = append(conds, fmt.Sprintf("provider = $%d", len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM storefront.transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListStalePending returns pending entries created before cutoff, oldest first
func (r *TransactionRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM storefront.transactions
		WHERE deposit_status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale transactions: %w", err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// ListUnpublishedEvents returns transitions whose event never reached the
// broker, recorded before cutoff, oldest first.
func (r *TransactionRepository) ListUnpublishedEvents(ctx context.Context, cutoff time.Time, limit int) ([]*models.TransactionEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, internal_id, from_status, to_status, payload, created_at, published_at
		FROM storefront.transaction_events
		WHERE published_at IS NULL AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished events: %w", err)
	}
	defer rows.Close()

	var list []*models.TransactionEvent
	for rows.Next() {
		var (
			e       models.TransactionEvent
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.InternalID, &e.FromStatus, &e.ToStatus, &payload, &e.CreatedAt, &e.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan transaction event: %w", err)
		}
		e.Payload = payload
		list = append(list, &e)
	}
	return list, rows.Err()
}

// MarkEventPublished stamps the transition of internalID as delivered.
// An entry leaves pending once, so it has at most one transition row.
func (r *TransactionRepository) MarkEventPublished(ctx context.Context, internalID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE storefront.transaction_events
		SET published_at = now()
		WHERE internal_id = $1 AND published_at IS NULL`, internalID)
	if err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.InternalID, &t.ProviderDepositID, &t.DepositStatus, &t.DepositAmount, &t.SettledAmount,
		&t.OrderID, &t.OrderStatus, &t.ProductCode, &t.ProductType, &t.ProductPrice, &t.Target,
		&t.Provider, &t.Profit, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return &t, nil
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var list []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
