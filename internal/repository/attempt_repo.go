package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

const attemptColumns = `
	id, owner, identity, catalog_ref, remote_identity_id, resource_handle,
	state, last_error, created_at, updated_at`

// AttemptPatch holds the columns a transition may set. Nil fields are left as they are.
type AttemptPatch struct {
	RemoteIdentityID *int64
	ResourceHandle   *int64
	LastError        *string
}

// AttemptRepository persists provisioning attempts so partial failures can be swept later.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a new attempt. An owner with an attempt already in flight gets ErrConflict.
func (r *AttemptRepository) Create(ctx context.Context, a *models.ProvisionAttempt) error {
	query := `
		INSERT INTO storefront.provision_attempts (id, owner, identity, catalog_ref, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query, a.ID, a.Owner, a.Identity, a.CatalogRef, a.State).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert provision attempt: %w", ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert provision attempt: %w", err)
	}
	return nil
}

// Transition moves an attempt from one state to another. ErrStaleState if it was not in from.
func (r *AttemptRepository) Transition(ctx context.Context, id string, from, to models.AttemptState, patch AttemptPatch) error {
	query := `
		UPDATE storefront.provision_attempts
		SET state = $3,
			remote_identity_id = COALESCE($4, remote_identity_id),
			resource_handle = COALESCE($5, resource_handle),
			last_error = COALESCE($6, last_error),
			updated_at = now()
		WHERE id = $1 AND state = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, from, to, patch.RemoteIdentityID, patch.ResourceHandle, patch.LastError)
	if err != nil {
		return fmt.Errorf("update provision attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("attempt %s %s -> %s: %w", id, from, to, ErrStaleState)
	}
	return nil
}

// ListSweepable returns failed_orphan attempts plus in-flight attempts untouched since cutoff.
func (r *AttemptRepository) ListSweepable(ctx context.Context, cutoff time.Time, limit int) ([]*models.ProvisionAttempt, error) {
	query := `SELECT ` + attemptColumns + `
		FROM storefront.provision_attempts
		WHERE state = 'failed_orphan'
		   OR (state IN ('start', 'identity_created', 'resource_created') AND updated_at < $1)
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweepable attempts: %w", err)
	}
	defer rows.Close()

	var list []*models.ProvisionAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func scanAttempt(row pgx.Row) (*models.ProvisionAttempt, error) {
	var a models.ProvisionAttempt
	err := row.Scan(
		&a.ID, &a.Owner, &a.Identity, &a.CatalogRef, &a.RemoteIdentityID, &a.ResourceHandle,
		&a.State, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provision attempt: %w", err)
	}
	return &a, nil
}
