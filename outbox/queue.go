package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Message is one undelivered integration event. Rows are written in the same
// database transaction as the state change they describe, so a committed
// mutation always has its event and a rolled-back one never does.
type Message struct {
	ID          int64
	Topic       string
	Payload     []byte
	Attempts    int
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Queue stores and drains outbox messages.
type Queue struct {
	pool *pgxpool.Pool
}

func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue writes a message inside the caller's transaction.
func (q *Queue) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	if topic == "" {
		return fmt.Errorf("outbox: empty topic")
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: marshal payload: %w", err)
	}

	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, insertSQL, topic, payloadBytes); err != nil {
		return fmt.Errorf("outbox: insert message: %w", err)
	}
	return nil
}

// ClaimPending locks up to limit undelivered messages for this dispatcher.
// SKIP LOCKED lets concurrent dispatchers drain disjoint batches.
func (q *Queue) ClaimPending(ctx context.Context, limit int) ([]Message, pgx.Tx, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox: begin claim: %w", err)
	}

	const claimSQL = `
		SELECT id, topic, payload, attempts, created_at, processed_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.Query(ctx, claimSQL, limit)
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Attempts, &m.CreatedAt, &m.ProcessedAt); err != nil {
			tx.Rollback(ctx)
			return nil, nil, fmt.Errorf("outbox: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		tx.Rollback(ctx)
		return nil, nil, fmt.Errorf("outbox: iterate messages: %w", err)
	}
	return out, tx, nil
}

// MarkProcessed stamps a claimed message as delivered.
func (q *Queue) MarkProcessed(ctx context.Context, tx pgx.Tx, id int64) error {
	const query = `UPDATE outbox SET processed_at = now() WHERE id = $1`
	if _, err := tx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

// MarkFailed counts a delivery attempt and leaves the message pending.
func (q *Queue) MarkFailed(ctx context.Context, tx pgx.Tx, id int64) error {
	const query = `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// Pending counts undelivered messages, used by tests and health reporting.
func (q *Queue) Pending(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE processed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("outbox: count pending: %w", err)
	}
	return n, nil
}
