package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/wenwu/saas-platform/storefront-service/internal/config"
	"github.com/wenwu/saas-platform/storefront-service/internal/metrics"
	"github.com/wenwu/saas-platform/storefront-service/internal/models"
)

// Event types
const (
	TypeDepositSettled     = "deposit.settled"
	TypeDepositFailed      = "deposit.failed"
	TypeDepositExpired     = "deposit.expired"
	TypeAccountProvisioned = "account.provisioned"
	TypeOrphanCompensated  = "identity.orphan_compensated"
)

// Event is the envelope written to the broker. Key picks the partition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
	Key        string    `json:"-"`
}

func NewEvent(eventType, key string, data any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Data:       data,
		Key:        key,
	}
}

// DepositEvent is published when a ledger entry leaves pending. Order
// fulfillment listens for deposit.settled; the ledger never touches order status.
type DepositEvent struct {
	InternalID    string               `json:"internal_id"`
	Provider      string               `json:"provider"`
	Status        models.DepositStatus `json:"status"`
	DepositAmount int64                `json:"deposit_amount"`
	SettledAmount *int64               `json:"settled_amount,omitempty"`
	OrderID       *string              `json:"order_id,omitempty"`
	ProductCode   string               `json:"product_code,omitempty"`
	ProductType   models.ProductType   `json:"product_type"`
}

// DepositTransition builds the event for a ledger entry that left pending.
// The id and timestamp derive from the entry, so a relayed copy is identical
// to the first attempt and consumers can drop duplicates by id.
func DepositTransition(t *models.Transaction) Event {
	eventType := TypeDepositFailed
	switch t.DepositStatus {
	case models.DepositSuccess:
		eventType = TypeDepositSettled
	case models.DepositExpired:
		eventType = TypeDepositExpired
	}
	return Event{
		ID:         uuid.NewSHA1(depositNamespace, []byte(t.InternalID+":"+string(t.DepositStatus))).String(),
		Type:       eventType,
		OccurredAt: t.UpdatedAt.UTC(),
		Data:       DepositEventFrom(t),
		Key:        t.InternalID,
	}
}

var depositNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("storefront/deposit-events"))

func DepositEventFrom(t *models.Transaction) DepositEvent {
	return DepositEvent{
		InternalID:    t.InternalID,
		Provider:      t.Provider,
		Status:        t.DepositStatus,
		DepositAmount: t.DepositAmount,
		SettledAmount: t.SettledAmount,
		OrderID:       t.OrderID,
		ProductCode:   t.ProductCode,
		ProductType:   t.ProductType,
	}
}

type AccountEvent struct {
	AccountID      string              `json:"account_id"`
	Identity       string              `json:"identity"`
	ResourceHandle int64               `json:"resource_handle"`
	CatalogRef     string              `json:"catalog_ref"`
	Spec           models.SpecSnapshot `json:"spec_snapshot"`
}

type OrphanEvent struct {
	AttemptID        string `json:"attempt_id"`
	Identity         string `json:"identity"`
	RemoteIdentityID *int64 `json:"remote_identity_id,omitempty"`
	ResourceHandle   *int64 `json:"resource_handle,omitempty"`
	Result           string `json:"result"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// New returns a Kafka publisher, or a no-op one when no brokers are configured.
func New(cfg config.KafkaConfig, logger *slog.Logger) Publisher {
	if len(cfg.Brokers) == 0 {
		logger.Info("kafka brokers not configured, domain events disabled")
		return NopPublisher{}
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic, logger)
}

type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			MaxAttempts:  3,
		},
		logger: logger.With("component", "kafka_publisher"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.Key),
		Value:   msg,
		Time:    e.OccurredAt,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	})
	metrics.EventsPublishedTotal.WithLabelValues(e.Type, metrics.Outcome(err)).Inc()
	if err != nil {
		return fmt.Errorf("write %s: %w", e.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
