package workers

import (
	"context"
	"log/slog"
	"time"

	"escrowflow/outbox"
)

// Publisher delivers one outbox message to the outside world.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// LogPublisher writes events to the structured log. Stands in until a real
// broker is attached.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.Log.InfoContext(ctx, "outbox event", "topic", topic, "payload", string(payload))
	return nil
}

// OutboxDispatcher drains the transactional outbox on an interval. Claimed
// rows stay locked until the batch commits, so a crashed dispatcher releases
// its batch for the next run.
type OutboxDispatcher struct {
	Queue     *outbox.Queue
	Publisher Publisher
	Interval  time.Duration
	BatchSize int
	Log       *slog.Logger
}

// Run polls until the context is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				d.Log.ErrorContext(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (d *OutboxDispatcher) drain(ctx context.Context) error {
	for {
		msgs, tx, err := d.Queue.ClaimPending(ctx, d.BatchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			tx.Rollback(ctx)
			return nil
		}

		for _, m := range msgs {
			if err := d.Publisher.Publish(ctx, m.Topic, m.Payload); err != nil {
				d.Log.WarnContext(ctx, "publish failed", "topic", m.Topic, "message_id", m.ID, "error", err)
				if err := d.Queue.MarkFailed(ctx, tx, m.ID); err != nil {
					tx.Rollback(ctx)
					return err
				}
				continue
			}
			if err := d.Queue.MarkProcessed(ctx, tx, m.ID); err != nil {
				tx.Rollback(ctx)
				return err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		if len(msgs) < d.BatchSize {
			return nil
		}
	}
}
