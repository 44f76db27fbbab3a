package account

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Balance is the derived per-user escrow view for one currency. It is never
// a source of truth: the stored row always equals a from-scratch walk of the
// user's transactions because RecomputeInTx runs inside the same database
// transaction as every mutation.
type Balance struct {
	UserID         string
	Currency       string
	TotalHeld      int64
	TotalReleased  int64
	TotalInDispute int64
	UpdatedAt      time.Time
}

// Aggregator maintains the escrow_accounts projection eagerly: recompute on
// every mutation rather than compensating updates, so the full-walk property
// holds by construction.
type Aggregator struct {
	pool *pgxpool.Pool
}

func NewAggregator(pool *pgxpool.Pool) *Aggregator {
	return &Aggregator{pool: pool}
}

const walkSQL = `
	SELECT $1::uuid, t.currency,
	       COALESCE(SUM(t.total_amount) FILTER (WHERE t.status IN ('pending','active')), 0),
	       COALESCE(SUM(t.total_amount) FILTER (WHERE t.status = 'completed'), 0),
	       COALESCE(SUM(t.total_amount) FILTER (WHERE t.status = 'disputed'), 0)
	FROM escrow_transactions t
	WHERE t.buyer_id = $1 OR t.seller_id = $1
	GROUP BY t.currency
`

// RecomputeInTx rewrites the account rows for each user from a full
// aggregate walk, inside the caller's transaction.
func (a *Aggregator) RecomputeInTx(ctx context.Context, tx pgx.Tx, userIDs ...string) error {
	const upsertSQL = `
		INSERT INTO escrow_accounts (user_id, currency, total_held, total_released, total_in_dispute, updated_at)
		SELECT w.*, get_tx_timestamp()
		FROM (` + walkSQL + `) AS w
		ON CONFLICT (user_id, currency) DO UPDATE
		SET total_held = EXCLUDED.total_held,
		    total_released = EXCLUDED.total_released,
		    total_in_dispute = EXCLUDED.total_in_dispute,
		    updated_at = EXCLUDED.updated_at
	`

	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		if _, err := tx.Exec(ctx, upsertSQL, userID); err != nil {
			return fmt.Errorf("account: recompute %s: %w", userID, err)
		}
	}
	return nil
}

// Recompute performs the full walk read-only. A single statement reads one
// MVCC snapshot, so concurrent mutations on other transactions never produce
// mid-mutation totals.
func (a *Aggregator) Recompute(ctx context.Context, userID string) ([]Balance, error) {
	query := walkSQL + ` ORDER BY t.currency`

	rows, err := a.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("account: walk transactions: %w", err)
	}
	defer rows.Close()

	out := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.UserID, &b.Currency, &b.TotalHeld, &b.TotalReleased, &b.TotalInDispute); err != nil {
			return nil, fmt.Errorf("account: scan walk: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate walk: %w", err)
	}
	return out, nil
}

// Get reads the stored projection rows for a user.
func (a *Aggregator) Get(ctx context.Context, userID string) ([]Balance, error) {
	const query = `
		SELECT user_id, currency, total_held, total_released, total_in_dispute, updated_at
		FROM escrow_accounts
		WHERE user_id = $1
		ORDER BY currency
	`

	rows, err := a.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("account: query accounts: %w", err)
	}
	defer rows.Close()

	out := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.UserID, &b.Currency, &b.TotalHeld, &b.TotalReleased, &b.TotalInDispute, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("account: scan account: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: iterate accounts: %w", err)
	}
	return out, nil
}
