package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

const accountColumns = `
	id, identity, email, remote_identity_id, resource_handle,
	ram, cpu, disk, catalog_ref, status, created_at`

type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Commit inserts the account and marks its attempt committed in one transaction.
func (r *AccountRepository) Commit(ctx context.Context, attemptID string, acc *models.ProvisionedAccount) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO storefront.provisioned_accounts (
			id, identity, email, credential_hash, remote_identity_id, resource_handle,
			ram, cpu, disk, catalog_ref, attempt_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		acc.ID, acc.Identity, acc.Email, acc.CredentialHash, acc.RemoteIdentityID, acc.ResourceHandle,
		acc.Spec.RAM, acc.Spec.CPU, acc.Spec.Disk, acc.CatalogRef, attemptID, acc.Status,
	).Scan(&acc.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert provisioned account: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert provisioned account: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE storefront.provision_attempts
		SET state = 'committed', updated_at = now()
		WHERE id = $1 AND state = 'resource_created'`, attemptID)
	if err != nil {
		return fmt.Errorf("commit provision attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("commit provision attempt %s: %w", attemptID, ErrStaleState)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByIdentity returns the account holding identity, without its credential hash.
func (r *AccountRepository) GetByIdentity(ctx context.Context, identity string) (*models.ProvisionedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM storefront.provisioned_accounts WHERE identity = $1`

	a, err := scanAccount(r.pool.QueryRow(ctx, query, identity))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get provisioned account: %w", err)
	}
	return a, nil
}

// List returns accounts newest first. The credential hash is never selected.
func (r *AccountRepository) List(ctx context.Context, limit, offset int) ([]*models.ProvisionedAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM storefront.provisioned_accounts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query provisioned accounts: %w", err)
	}
	defer rows.Close()

	var list []*models.ProvisionedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provisioned account: %w", err)
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func scanAccount(row pgx.Row) (*models.ProvisionedAccount, error) {
	var a models.ProvisionedAccount
	err := row.Scan(
		&a.ID, &a.Identity, &a.Email, &a.RemoteIdentityID, &a.ResourceHandle,
		&a.Spec.RAM, &a.Spec.CPU, &a.Spec.Disk, &a.CatalogRef, &a.Status, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
