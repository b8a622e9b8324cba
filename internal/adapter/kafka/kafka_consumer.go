package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/aq2208/gcheckout/internal/usecase"
)

// HandlerFunc processes a decoded provider event. A non-nil error leaves the
// message unmarked so it is seen again after the next rebalance.
type HandlerFunc func(ctx context.Context, ev usecase.ProviderEvent) error

// Consumer consumes provider status topics with a single handler.
type Consumer struct {
	Group       sarama.ConsumerGroup
	Topics      []string
	Handle      HandlerFunc
	CallTimeout time.Duration
	Logger      *slog.Logger
}

func NewConsumer(group sarama.ConsumerGroup, topics []string, h HandlerFunc) *Consumer {
	return &Consumer{
		Group:       group,
		Topics:      topics,
		Handle:      h,
		CallTimeout: 10 * time.Second,
		Logger:      logging.New("kafka"),
	}
}

// Start blocks until ctx is cancelled or the group fails.
func (c *Consumer) Start(ctx context.Context) error {
	handler := &cgHandler{handle: c.Handle, timeout: c.CallTimeout, logger: c.Logger}
	for {
		if err := c.Group.Consume(ctx, c.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return err
		}
		// When Consume returns, it’s because ctx was cancelled or a rebalance happened.
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) Close() error { return c.Group.Close() }

type cgHandler struct {
	handle  HandlerFunc
	timeout time.Duration
	logger  *slog.Logger
}

func (h *cgHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *cgHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *cgHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		log := h.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

		var ev usecase.ProviderEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn("kafka decode error", "err", err)
			// mark to avoid reprocessing poison
			sess.MarkMessage(msg, "decode-error")
			continue
		}

		ctx, cancel := context.WithTimeout(logging.WithCtx(sess.Context(), log), h.timeout)
		err := h.handle(ctx, ev)
		cancel()
		if err != nil {
			log.Error("handler error", "event_id", ev.EventID, "err", err)
			// Stop this claim without marking; the partition resumes from the
			// last marked offset once the group rebalances.
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}
