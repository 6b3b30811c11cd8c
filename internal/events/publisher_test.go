package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

func TestNew_NoBrokersIsNop(t *testing.T) {
	p := New(config.KafkaConfig{Topic: "storefront.events"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), NewEvent(TypeDepositSettled, "k", nil)))
	assert.NoError(t, p.Close())
}

func TestDepositEvent_Envelope(t *testing.T) {
	settled := int64(50000)
	order := "ORD-7"
	txn := &models.Transaction{
		InternalID:    "4b1c6f5e-1111-4c8b-9c34-0d9f8a2f0b11",
		Provider:      models.ProviderAtlantik,
		DepositStatus: models.DepositSuccess,
		DepositAmount: 50000,
		SettledAmount: &settled,
		OrderID:       &order,
		ProductType:   models.ProductTopup,
	}

	e := NewEvent(TypeDepositSettled, txn.InternalID, DepositEventFrom(txn))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, txn.InternalID, e.Key)

	raw, err := json.Marshal(e)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "deposit.settled", decoded["type"])
	assert.NotContains(t, decoded, "Key")
	data := decoded["data"].(map[string]any)
	assert.Equal(t, "ORD-7", data["order_id"])
	assert.Equal(t, float64(50000), data["settled_amount"])
}

func TestDepositTransition(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	settled := &models.Transaction{InternalID: "4b1c6f5e-1111-4c8b-9c34-0d9f8a2f0b11", DepositStatus: models.DepositSuccess, UpdatedAt: at}

	first := DepositTransition(settled)
	again := DepositTransition(settled)
	assert.Equal(t, TypeDepositSettled, first.Type)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, at, first.OccurredAt)
	assert.Equal(t, settled.InternalID, first.Key)

	expired := *settled
	expired.DepositStatus = models.DepositExpired
	assert.Equal(t, TypeDepositExpired, DepositTransition(&expired).Type)
	assert.NotEqual(t, first.ID, DepositTransition(&expired).ID)

	failed := *settled
	failed.DepositStatus = models.DepositFailed
	assert.Equal(t, TypeDepositFailed, DepositTransition(&failed).Type)
}
