package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"evently-seats/internal/shared/config"
	"evently-seats/pkg/logger"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"
)

// Consumer reads the payments topic with a consumer group. Offsets are
// committed only after a message is settled, so a crash redelivers it and
// Confirm's idempotency absorbs the duplicate.
type Consumer struct {
	group      sarama.ConsumerGroup
	handler    *Handler
	topics     []string
	maxRetries uint
	log        *logger.Logger
	wg         sync.WaitGroup
}

func NewConsumer(cfg config.KafkaConfig, handler *Handler, log *logger.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_1_0_0
	saramaConfig.Consumer.Group.Session.Timeout = 30 * time.Second
	saramaConfig.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	saramaConfig.Consumer.Retry.Backoff = 100 * time.Millisecond
	saramaConfig.Consumer.MaxProcessingTime = time.Minute
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true
	saramaConfig.Consumer.Offsets.AutoCommit.Interval = time.Second

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &Consumer{
		group:      group,
		handler:    handler,
		topics:     []string{cfg.PaymentsTopic},
		maxRetries: 5,
		log:        log.WithComponent("payments-consumer"),
	}, nil
}

// Start launches workers goroutines that consume until ctx is cancelled
func (c *Consumer) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	c.log.Info("Starting payment consumers", "workers", workers, "topics", c.topics)

	go func() {
		for err := range c.group.Errors() {
			c.log.Error("Consumer group error", "error", err.Error())
		}
	}()

	for i := 0; i < workers; i++ {
		c.wg.Add(1)
		go func(workerID int) {
			defer c.wg.Done()
			c.runWorker(ctx, workerID)
		}(i)
	}
}

func (c *Consumer) runWorker(ctx context.Context, workerID int) {
	h := &groupHandler{consumer: c, workerID: workerID}
	for {
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.log.Error("Error consuming payments", "worker", workerID, "error", err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			c.log.Info("Payment consumer shutting down", "worker", workerID)
			return
		}
	}
}

// Stop waits for the workers to return and closes the group. Cancel the
// context passed to Start first.
func (c *Consumer) Stop() error {
	c.wg.Wait()
	return c.group.Close()
}

type groupHandler struct {
	consumer *Consumer
	workerID int
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.log.Debug("Payment consumer session started", "worker", h.workerID)
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.log.Debug("Payment consumer session ended", "worker", h.workerID)
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consumer.process(session.Context(), message); err != nil {
				// Leave the offset unmarked; the message is redelivered after a rebalance
				h.consumer.log.ErrorWithContext(session.Context(), "Failed to process payment message", err, map[string]any{
					"worker":    h.workerID,
					"partition": message.Partition,
					"offset":    message.Offset,
				})
				return err
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process applies one message, retrying failures that may clear on their own
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.handler.HandleMessage(ctx, message.Value)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(c.maxRetries))
	return err
}

// KafkaCompensationPublisher writes compensation requests keyed by payment id
type KafkaCompensationPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaCompensationPublisher(cfg config.KafkaConfig) (*KafkaCompensationPublisher, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.RetryMax
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaCompensationPublisherWithProducer(producer, cfg.PaymentCompensationTopic), nil
}

func NewKafkaCompensationPublisherWithProducer(producer sarama.SyncProducer, topic string) *KafkaCompensationPublisher {
	return &KafkaCompensationPublisher{producer: producer, topic: topic}
}

func (p *KafkaCompensationPublisher) PublishCompensation(_ context.Context, req CompensationRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal compensation request: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(req.PaymentID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: req.RequestedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to send compensation request: %w", err)
	}
	return nil
}

func (p *KafkaCompensationPublisher) Close() error {
	return p.producer.Close()
}
