package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"device-notifier/internal/logging"
	"device-notifier/internal/models"
	"device-notifier/internal/services"
)

// Trigger starts a notification run.
type Trigger interface {
	Start(ctx context.Context) (uuid.UUID, <-chan models.RunResult, error)
}

// RunRequest is the payload of a run trigger message.
type RunRequest struct {
	RequestedBy string `json:"requested_by"`
}

// readRetryDelay is the pause after a failed read before the next attempt.
const readRetryDelay = 2 * time.Second

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type Consumer struct {
	reader     *kafka.Reader
	trigger    Trigger
	logger     *logging.Logger
	retryDelay time.Duration
}

func NewConsumer(brokers []string, topic, groupID string, trigger Trigger, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	})
	return &Consumer{reader: r, trigger: trigger, logger: logger, retryDelay: readRetryDelay}
}

// Start reads messages until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.logger.Infof("Kafka consumer started on topic %s", c.reader.Config().Topic)
		c.consume(ctx, c.reader)
		c.logger.Infof("Kafka consumer stopped")
	}()
}

// consume reads from r until ctx is done. A failed read is followed by a
// pause of retryDelay.
func (c *Consumer) consume(ctx context.Context, r messageReader) {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Errorf("Read message failed, retrying in %s: %v", c.retryDelay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryDelay):
			}
			continue
		}
		if err := c.handleMessage(ctx, msg.Value); err != nil {
			c.logger.Errorf("Skipping message at offset %d: %v", msg.Offset, err)
		}
	}
}

// handleMessage starts a run for one trigger message. A run already in
// flight is logged and not an error.
func (c *Consumer) handleMessage(ctx context.Context, value []byte) error {
	var req RunRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return fmt.Errorf("unmarshal message failed: %w", err)
	}
	if req.RequestedBy == "" {
		req.RequestedBy = "kafka"
	}

	id, _, err := c.trigger.Start(ctx)
	if errors.Is(err, services.ErrRunInProgress) {
		c.logger.Warnf("Run requested by %s ignored: %v", req.RequestedBy, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	c.logger.Infof("Run %s started, requested by %s", id, req.RequestedBy)
	return nil
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
