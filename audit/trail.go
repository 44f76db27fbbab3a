package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Trail is the append-only per-transaction event log. Append runs inside the
// caller's database transaction: by the time it is called the mutation it
// describes has already been accepted, so it performs no business-rule
// validation beyond rejecting malformed input. Seq assignment relies on the
// caller holding the parent transaction row lock, which serializes appends
// and keeps (seq, created_at) monotonic per transaction.
type Trail struct {
	pool *pgxpool.Pool
}

// NewTrail wires a pgxpool-backed audit trail.
func NewTrail(pool *pgxpool.Pool) *Trail {
	return &Trail{pool: pool}
}

// Append inserts one record with the next per-transaction sequence number.
func (t *Trail) Append(ctx context.Context, tx pgx.Tx, entry Entry) error {
	if entry.TransactionID == "" {
		return fmt.Errorf("audit: missing transaction id")
	}
	if !ValidType(entry.Type) {
		return fmt.Errorf("audit: invalid record type %q", entry.Type)
	}

	const insertSQL = `
		INSERT INTO audit_records (transaction_id, seq, type, amount, description, actor_id, milestone_id)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4, $5, $6
		FROM audit_records
		WHERE transaction_id = $1
	`

	if _, err := tx.Exec(ctx, insertSQL,
		entry.TransactionID,
		entry.Type,
		entry.Amount,
		entry.Description,
		entry.ActorID,
		entry.MilestoneID,
	); err != nil {
		return fmt.Errorf("audit: append record: %w", err)
	}

	return nil
}

// ListByTransaction returns the full trail for one transaction in insertion
// order.
func (t *Trail) ListByTransaction(ctx context.Context, transactionID string) ([]Record, error) {
	const query = `
		SELECT id, transaction_id, seq, type::text, amount, description, actor_id, milestone_id, created_at
		FROM audit_records
		WHERE transaction_id = $1
		ORDER BY seq ASC
	`

	rows, err := t.pool.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(
			&rec.ID,
			&rec.TransactionID,
			&rec.Seq,
			&rec.Type,
			&rec.Amount,
			&rec.Description,
			&rec.ActorID,
			&rec.MilestoneID,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate records: %w", err)
	}
	return out, nil
}
