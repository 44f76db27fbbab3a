package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/escrow"
)

// Releaser is the slice of the escrow service the worker drives.
type Releaser interface {
	AutoRelease(ctx context.Context, id string) (escrow.Transaction, error)
}

// AutoReleaseWorker completes full-type transactions whose holding period has
// elapsed. Candidate selection is a plain read; AutoRelease itself re-checks
// state under the row lock, so a candidate that changed since the scan just
// yields ErrInvalidState and is skipped.
type AutoReleaseWorker struct {
	Pool     *pgxpool.Pool
	Releaser Releaser
	Interval time.Duration
	Log      *slog.Logger
}

// Run polls until the context is cancelled.
func (w *AutoReleaseWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.Log.ErrorContext(ctx, "auto-release sweep failed", "error", err)
			}
		}
	}
}

func (w *AutoReleaseWorker) sweep(ctx context.Context) error {
	const query = `
		SELECT id
		FROM escrow_transactions
		WHERE tx_type = 'full'
		  AND status IN ('pending', 'active')
		  AND auto_release_at IS NOT NULL
		  AND auto_release_at <= now()
		ORDER BY auto_release_at
		LIMIT 100
	`

	rows, err := w.Pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("workers: scan auto-release candidates: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("workers: scan candidate id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("workers: iterate candidates: %w", err)
	}

	for _, id := range ids {
		txn, err := w.Releaser.AutoRelease(ctx, id)
		if err != nil {
			if errors.Is(err, escrow.ErrInvalidState) || errors.Is(err, escrow.ErrNotFound) {
				continue
			}
			w.Log.WarnContext(ctx, "auto-release failed", "transaction_id", id, "error", err)
			continue
		}
		w.Log.InfoContext(ctx, "auto-released transaction", "transaction_id", txn.ID, "amount", txn.TotalAmount)
	}
	return nil
}
