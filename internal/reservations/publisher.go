package reservations

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"evently-seats/internal/shared/config"
	"evently-seats/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// EventType names a reservation lifecycle event
type EventType string

const (
	EventHoldCreated   EventType = "HOLD_CREATED"
	EventHoldConfirmed EventType = "HOLD_CONFIRMED"
	EventHoldReleased  EventType = "HOLD_RELEASED"
	EventHoldExpired   EventType = "HOLD_EXPIRED"
)

// LifecycleEvent is published after every committed hold mutation
type LifecycleEvent struct {
	Type          EventType   `json:"type"`
	ReservationID uuid.UUID   `json:"reservation_id"`
	EventID       uuid.UUID   `json:"event_id"`
	Kind          Kind        `json:"kind"`
	State         State       `json:"state"`
	SeatIDs       []uuid.UUID `json:"seat_ids"`
	HolderRef     string      `json:"holder_ref,omitempty"`
	ExternalRef   string      `json:"external_ref,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	ExpiresAt     *time.Time  `json:"expires_at,omitempty"`
	Version       int64       `json:"version"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func newLifecycleEvent(t EventType, r *Reservation, now time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:          t,
		ReservationID: r.ID,
		EventID:       r.EventID,
		Kind:          r.Kind,
		State:         r.State,
		SeatIDs:       r.SeatIDs(),
		HolderRef:     r.HolderRef,
		ExternalRef:   r.ExternalRef,
		Reason:        r.ReleaseReason,
		ExpiresAt:     r.ExpiresAt,
		Version:       r.Version,
		OccurredAt:    now,
	}
}

// Publisher delivers lifecycle events. Delivery is at most once per
// committed mutation; a failure is logged and never undoes the mutation.
type Publisher interface {
	Publish(ctx context.Context, evt LifecycleEvent) error
}

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, LifecycleEvent) error { return nil }

// RecordingPublisher keeps published events in memory
type RecordingPublisher struct {
	mu     sync.Mutex
	events []LifecycleEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, evt LifecycleEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *RecordingPublisher) Events() []LifecycleEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]LifecycleEvent(nil), p.events...)
}

// KafkaPublisher writes lifecycle events to a topic keyed by event id, so all
// events of one event land on one partition in commit order.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, log *logger.Logger) (*KafkaPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.RetryMax
	saramaConfig.Producer.Timeout = 10 * time.Second
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	// Idempotent writes require a single in-flight request per connection
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1
	saramaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	log.Info("Kafka lifecycle publisher created", "topic", cfg.ReservationEventsTopic, "brokers", cfg.Brokers)
	return NewKafkaPublisherWithProducer(producer, cfg.ReservationEventsTopic, log), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt LifecycleEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal lifecycle event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.EventID.String()),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(evt.Type)},
			{Key: []byte("reservation_id"), Value: []byte(evt.ReservationID.String())},
		},
		Timestamp: evt.OccurredAt,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send lifecycle event to Kafka: %w", err)
	}

	p.log.DebugContext(ctx, "Lifecycle event published",
		"type", string(evt.Type),
		"reservation_id", evt.ReservationID.String(),
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
