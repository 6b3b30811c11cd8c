//go:build integration

package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/storefront-service/internal/db"
	"github.com/wenwu/saas-platform/storefront-service/internal/logger"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// go test -tags integration ./internal/repository/ with STOREFRONT_TEST_DSN pointing at a scratch database.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("STOREFRONT_TEST_DSN")
	if dsn == "" {
		t.Skip("STOREFRONT_TEST_DSN not set")
	}

	require.NoError(t, db.RunMigrations(dsn, logger.Discard()))
	pool, err := db.NewPool(context.Background(), dsn, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func newPendingTxn(t *testing.T, repo *TransactionRepository) *models.Transaction {
	t.Helper()
	deposit := "DEP-" + uuid.NewString()[:8]
	txn := &models.Transaction{
		InternalID:        uuid.NewString(),
		ProviderDepositID: &deposit,
		DepositStatus:     models.DepositPending,
		DepositAmount:     50000,
		OrderStatus:       models.OrderPending,
		ProductType:       models.ProductTopup,
		Provider:          models.ProviderAtlantik,
	}
	require.NoError(t, repo.Create(context.Background(), txn))
	return txn
}

func TestAdvance_ConcurrentTransitionsApplyOnce(t *testing.T) {
	repo := NewTransactionRepository(testPool(t))
	ctx := context.Background()
	txn := newPendingTxn(t, repo)

	settled := int64(50000)
	targets := []models.DepositStatus{models.DepositSuccess, models.DepositFailed, models.DepositSuccess, models.DepositExpired}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed []models.DepositStatus
	)
	for _, status := range targets {
		wg.Add(1)
		go func(status models.DepositStatus) {
			defer wg.Done()
			var amount *int64
			if status == models.DepositSuccess {
				amount = &settled
			}
			_, ok, err := repo.Advance(ctx, txn.InternalID, status, amount, []byte(`{"status":"`+string(status)+`"}`))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				changed = append(changed, status)
				mu.Unlock()
			}
		}(status)
	}
	wg.Wait()

	require.Len(t, changed, 1)
	final, err := repo.GetByID(ctx, txn.InternalID)
	require.NoError(t, err)
	assert.Equal(t, changed[0], final.DepositStatus)

	var events int
	require.NoError(t, repo.pool.QueryRow(ctx,
		`SELECT count(*) FROM storefront.transaction_events WHERE internal_id = $1`, txn.InternalID).Scan(&events))
	assert.Equal(t, 1, events)

	// a terminal entry never moves again
	again, ok, err := repo.Advance(ctx, txn.InternalID, models.DepositPending, nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, final.DepositStatus, again.DepositStatus)
}

func TestEventOutbox_MarkPublished(t *testing.T) {
	repo := NewTransactionRepository(testPool(t))
	ctx := context.Background()
	txn := newPendingTxn(t, repo)

	_, ok, err := repo.Advance(ctx, txn.InternalID, models.DepositExpired, nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := repo.ListUnpublishedEvents(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.True(t, containsEvent(pending, txn.InternalID))

	require.NoError(t, repo.MarkEventPublished(ctx, txn.InternalID))
	pending, err = repo.ListUnpublishedEvents(ctx, time.Now().Add(time.Minute), 1000)
	require.NoError(t, err)
	assert.False(t, containsEvent(pending, txn.InternalID))
}

func containsEvent(list []*models.TransactionEvent, internalID string) bool {
	for _, e := range list {
		if e.InternalID == internalID {
			return true
		}
	}
	return false
}
