package escrow

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusChange describes a status write against one transaction row.
// StampStarted/StampCompleted set the corresponding timestamp if unset.
type StatusChange struct {
	ID             string
	Status         Status
	StampStarted   bool
	StampCompleted bool
}

// Repository defines the data access the transaction manager needs. Mutating
// methods run inside the caller's pgx transaction so the row lock taken by
// GetForUpdate covers every write of the mutation.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, txn Transaction) (Transaction, error)
	InsertMilestone(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error)
	Get(ctx context.Context, id string) (Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, change StatusChange) (Transaction, error)
	UpdateMilestoneStatus(ctx context.Context, tx pgx.Tx, milestoneID string, status MilestoneStatus, stampRelease bool) (Milestone, error)
	RetagMilestones(ctx context.Context, tx pgx.Tx, transactionID string, from, to MilestoneStatus) error
	SetCurrentMilestone(ctx context.Context, tx pgx.Tx, transactionID string, index int) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const transactionColumns = `id, order_id, buyer_id, seller_id, buyer_name, seller_name,
	total_amount, currency, tx_type::text, status::text, current_milestone,
	release_conditions, delivery_deadline, quality_check_required, quality_check_passed,
	auto_release_at, holding_period_days, started_at, completed_at, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, txn Transaction) (Transaction, error) {
	const insertSQL = `
		INSERT INTO escrow_transactions (
			id, order_id, buyer_id, seller_id, buyer_name, seller_name,
			total_amount, currency, tx_type, status, release_conditions,
			delivery_deadline, quality_check_required, auto_release_at, holding_period_days
		)
		VALUES (
			COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING ` + transactionColumns

	row := tx.QueryRow(ctx, insertSQL,
		txn.ID,
		txn.OrderID,
		txn.BuyerID,
		txn.SellerID,
		txn.BuyerName,
		txn.SellerName,
		txn.TotalAmount,
		txn.Currency,
		txn.Type,
		txn.Status,
		txn.ReleaseConditions,
		txn.DeliveryDeadline,
		txn.QualityCheckRequired,
		txn.AutoReleaseAt,
		txn.HoldingPeriodDays,
	)

	created, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, storagef("insert transaction", err)
	}
	return created, nil
}

func (r *PGRepository) InsertMilestone(ctx context.Context, tx pgx.Tx, m Milestone) (Milestone, error) {
	const insertSQL = `
		INSERT INTO milestones (
			id, transaction_id, position, name, description, amount, percentage, due_date, status, notes
		)
		VALUES (
			COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),
			$2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING id, transaction_id, position, name, description, amount, percentage, due_date, status::text, released_at, notes, created_at
	`

	row := tx.QueryRow(ctx, insertSQL,
		m.ID,
		m.TransactionID,
		m.Position,
		m.Name,
		m.Description,
		m.Amount,
		m.Percentage,
		m.DueDate,
		m.Status,
		m.Notes,
	)

	created, err := scanMilestone(row)
	if err != nil {
		return Milestone{}, storagef("insert milestone", err)
	}
	return created, nil
}

// GetForUpdate loads a transaction and its milestones while holding the row
// lock that serializes all mutations on this id.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM escrow_transactions WHERE id = $1 FOR UPDATE`

	txn, err := scanTransaction(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, storagef("get transaction for update", err)
	}

	milestones, err := loadMilestones(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	txn.Milestones = milestones
	return txn, nil
}

// Get is the lock-free read used by handlers and confirmation read-backs.
func (r *PGRepository) Get(ctx context.Context, id string) (Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM escrow_transactions WHERE id = $1`

	txn, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, storagef("get transaction", err)
	}

	milestones, err := loadMilestones(ctx, r.pool, id)
	if err != nil {
		return Transaction{}, err
	}
	txn.Milestones = milestones
	return txn, nil
}

func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, change StatusChange) (Transaction, error) {
	query := `
		UPDATE escrow_transactions
		SET status = $2,
		    started_at = CASE WHEN $3 THEN COALESCE(started_at, get_tx_timestamp()) ELSE started_at END,
		    completed_at = CASE WHEN $4 THEN COALESCE(completed_at, get_tx_timestamp()) ELSE completed_at END,
		    updated_at = get_tx_timestamp()
		WHERE id = $1
		RETURNING ` + transactionColumns

	txn, err := scanTransaction(tx.QueryRow(ctx, query, change.ID, change.Status, change.StampStarted, change.StampCompleted))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, storagef("update transaction status", err)
	}
	return txn, nil
}

func (r *PGRepository) UpdateMilestoneStatus(ctx context.Context, tx pgx.Tx, milestoneID string, status MilestoneStatus, stampRelease bool) (Milestone, error) {
	const query = `
		UPDATE milestones
		SET status = $2,
		    released_at = CASE WHEN $3 THEN COALESCE(released_at, get_tx_timestamp()) ELSE released_at END
		WHERE id = $1
		RETURNING id, transaction_id, position, name, description, amount, percentage, due_date, status::text, released_at, notes, created_at
	`

	m, err := scanMilestone(tx.QueryRow(ctx, query, milestoneID, status, stampRelease))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Milestone{}, ErrNotFound
		}
		return Milestone{}, storagef("update milestone status", err)
	}
	return m, nil
}

// RetagMilestones moves every milestone of a transaction from one status to
// another. Used when disputes freeze or unfreeze the pending slices.
func (r *PGRepository) RetagMilestones(ctx context.Context, tx pgx.Tx, transactionID string, from, to MilestoneStatus) error {
	const query = `UPDATE milestones SET status = $3 WHERE transaction_id = $1 AND status = $2`
	if _, err := tx.Exec(ctx, query, transactionID, from, to); err != nil {
		return storagef("retag milestones", err)
	}
	return nil
}

func (r *PGRepository) SetCurrentMilestone(ctx context.Context, tx pgx.Tx, transactionID string, index int) error {
	const query = `UPDATE escrow_transactions SET current_milestone = $2 WHERE id = $1`
	if _, err := tx.Exec(ctx, query, transactionID, index); err != nil {
		return storagef("set current milestone", err)
	}
	return nil
}

// querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadMilestones(ctx context.Context, q querier, transactionID string) ([]Milestone, error) {
	const query = `
		SELECT id, transaction_id, position, name, description, amount, percentage, due_date, status::text, released_at, notes, created_at
		FROM milestones
		WHERE transaction_id = $1
		ORDER BY position ASC
	`

	rows, err := q.Query(ctx, query, transactionID)
	if err != nil {
		return nil, storagef("load milestones", err)
	}
	defer rows.Close()

	out := []Milestone{}
	for rows.Next() {
		m, err := scanMilestone(rows)
		if err != nil {
			return nil, storagef("scan milestone", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storagef("iterate milestones", err)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var txn Transaction
	err := row.Scan(
		&txn.ID,
		&txn.OrderID,
		&txn.BuyerID,
		&txn.SellerID,
		&txn.BuyerName,
		&txn.SellerName,
		&txn.TotalAmount,
		&txn.Currency,
		&txn.Type,
		&txn.Status,
		&txn.CurrentMilestone,
		&txn.ReleaseConditions,
		&txn.DeliveryDeadline,
		&txn.QualityCheckRequired,
		&txn.QualityCheckPassed,
		&txn.AutoReleaseAt,
		&txn.HoldingPeriodDays,
		&txn.StartedAt,
		&txn.CompletedAt,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	return txn, err
}

func scanMilestone(row pgx.Row) (Milestone, error) {
	var m Milestone
	err := row.Scan(
		&m.ID,
		&m.TransactionID,
		&m.Position,
		&m.Name,
		&m.Description,
		&m.Amount,
		&m.Percentage,
		&m.DueDate,
		&m.Status,
		&m.ReleasedAt,
		&m.Notes,
		&m.CreatedAt,
	)
	return m, err
}
