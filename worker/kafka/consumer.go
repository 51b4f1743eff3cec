package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"mediaGen/core/models"
)

// MessageHandler receives each decoded message. A nil return means the
// message is done, whatever happened to its task; only then is the offset
// marked. An error means nothing was recorded and the message must be seen
// again.
type MessageHandler func(ctx context.Context, msg *models.GenerationMessage) error

const (
	defaultHandlerRetries = 3
	defaultHandlerBackoff = 500 * time.Millisecond
)

type Consumer struct {
	consumer sarama.ConsumerGroup
	logger   *zap.Logger
}

func NewConsumer(brokers []string, groupID string, logger *zap.Logger) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	c, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}

	return &Consumer{consumer: c, logger: logger}, nil
}

type consumerHandler struct {
	fn      MessageHandler
	retries uint64
	backoff time.Duration
	logger  *zap.Logger
}

func newConsumerHandler(fn MessageHandler, logger *zap.Logger) *consumerHandler {
	return &consumerHandler{
		fn:      fn,
		retries: defaultHandlerRetries,
		backoff: defaultHandlerBackoff,
		logger:  logger,
	}
}

func (h *consumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles one partition in order. A message whose handler keeps
// failing is left unmarked and the claim ends with an error; sarama then
// closes the session, and the next session starts again from the last
// committed offset, so the message is delivered again.
func (h *consumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handle(session, msg); err != nil {
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerHandler) handle(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) error {
	logger := h.logger.With(
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)

	genMsg, err := Decode(msg.Value)
	if err != nil {
		logger.Error("Dropping undecodable message", zap.Error(err))
		session.MarkMessage(msg, "")
		return nil
	}

	backoff := retry.WithMaxRetries(h.retries, retry.NewExponential(h.backoff))
	err = retry.Do(session.Context(), backoff, func(ctx context.Context) error {
		if err := h.fn(ctx, genMsg); err != nil {
			logger.Warn("Message handler failed, retrying", zap.Int64("task_id", genMsg.TaskID), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		logger.Error("Leaving message unmarked for redelivery", zap.Int64("task_id", genMsg.TaskID), zap.Error(err))
		return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}

	session.MarkMessage(msg, "")
	return nil
}

func Decode(data []byte) (*models.GenerationMessage, error) {
	var msg models.GenerationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Consume joins the group and keeps consuming across rebalances until ctx is
// cancelled. A session that ends because a message could not be handled is
// simply joined again.
func (c *Consumer) Consume(ctx context.Context, topic string, handler MessageHandler) error {
	h := newConsumerHandler(handler, c.logger)
	for {
		if err := c.consumer.Consume(ctx, []string{topic}, h); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}
