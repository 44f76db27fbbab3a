package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// Repository defines dispute data access. Mutating methods run inside the
// caller's transaction, under the parent escrow-transaction row lock.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkUnderReview(ctx context.Context, tx pgx.Tx, id string) (Record, error)
	MarkResolved(ctx context.Context, tx pgx.Tx, id, resolverID, resolution string) (Record, error)
	CloseOpen(ctx context.Context, tx pgx.Tx, transactionID, excludeID string) error
	CountUnresolved(ctx context.Context, tx pgx.Tx, transactionID, excludeID string) (int, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const disputeColumns = `id, transaction_id, initiator::text, reason, description, status::text,
	evidence, resolution, resolved_by, created_at, resolved_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	const insertSQL = `
		INSERT INTO disputes (id, transaction_id, initiator, reason, description, status, evidence)
		VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, COALESCE($7, '{}'::text[]))
		RETURNING ` + disputeColumns

	created, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		rec.ID,
		rec.TransactionID,
		rec.Initiator,
		rec.Reason,
		rec.Description,
		rec.Status,
		rec.Evidence,
	))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	query := `SELECT ` + disputeColumns + ` FROM disputes WHERE id = $1 FOR UPDATE`

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: dispute %s", escrow.ErrNotFound, id)
		}
		return Record{}, fmt.Errorf("dispute: get for update: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) MarkUnderReview(ctx context.Context, tx pgx.Tx, id string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'under_review'
		WHERE id = $1
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark under review: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) MarkResolved(ctx context.Context, tx pgx.Tx, id, resolverID, resolution string) (Record, error) {
	const query = `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2,
		    resolved_by = $3,
		    resolved_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + disputeColumns

	rec, err := scanRecord(tx.QueryRow(ctx, query, id, resolution, resolverID))
	if err != nil {
		return Record{}, fmt.Errorf("dispute: mark resolved: %w", err)
	}
	return rec, nil
}

// CloseOpen administratively closes remaining unresolved disputes once an
// award has finished the transaction.
func (r *PGRepository) CloseOpen(ctx context.Context, tx pgx.Tx, transactionID, excludeID string) error {
	const query = `
		UPDATE disputes
		SET status = 'closed',
		    resolved_at = get_tx_timestamp()
		WHERE transaction_id = $1
		  AND id <> $2
		  AND status IN ('open', 'under_review')
	`
	if _, err := tx.Exec(ctx, query, transactionID, excludeID); err != nil {
		return fmt.Errorf("dispute: close open: %w", err)
	}
	return nil
}

func (r *PGRepository) CountUnresolved(ctx context.Context, tx pgx.Tx, transactionID, excludeID string) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM disputes
		WHERE transaction_id = $1
		  AND id <> $2
		  AND status IN ('open', 'under_review')
	`
	var n int
	if err := tx.QueryRow(ctx, query, transactionID, excludeID).Scan(&n); err != nil {
		return 0, fmt.Errorf("dispute: count unresolved: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	return rec, row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.Initiator,
		&rec.Reason,
		&rec.Description,
		&rec.Status,
		&rec.Evidence,
		&rec.Resolution,
		&rec.ResolvedBy,
		&rec.CreatedAt,
		&rec.ResolvedAt,
	)
}
