package usecase

import (
	"context"
	"time"

	"github.com/aq2208/gcheckout/internal/logging"
)

// OutboxRelay publishes outbox rows and marks them sent. A failed publish is
// retried later with a growing delay.
type OutboxRelay struct {
	outbox   OutboxRepo
	pub      EventPublisher
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewOutboxRelay(outbox OutboxRepo, pub EventPublisher, interval time.Duration, batch int) *OutboxRelay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{outbox: outbox, pub: pub, interval: interval, batch: batch, now: time.Now}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			r.Flush(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Flush publishes one batch and returns how many rows were sent.
func (r *OutboxRelay) Flush(ctx context.Context) int {
	log := logging.Named(ctx, "outbox_relay")
	msgs, err := r.outbox.FetchDue(ctx, r.batch)
	if err != nil {
		log.Error("fetch outbox failed", "err", err)
		return 0
	}
	sent := 0
	for _, m := range msgs {
		if err := r.pub.Publish(ctx, m.Topic, m.Payload); err != nil {
			backoff := time.Duration(m.Attempts+1) * r.interval
			log.Warn("publish failed", "id", m.ID, "topic", m.Topic, "attempts", m.Attempts+1, "err", err)
			if err := r.outbox.MarkRetry(ctx, m.ID, r.now().Add(backoff)); err != nil {
				log.Error("mark retry failed", "id", m.ID, "err", err)
			}
			continue
		}
		if err := r.outbox.MarkSent(ctx, m.ID); err != nil {
			log.Error("mark sent failed", "id", m.ID, "err", err)
			continue
		}
		sent++
	}
	return sent
}
