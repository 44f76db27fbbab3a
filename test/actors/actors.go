package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/escrow"
)

// Actors drive the real services against a live database. Rejections with
// domain error kinds are expected under contention; anything else is a bug.

func expected(err error) bool {
	return errors.Is(err, escrow.ErrInvalidState) ||
		errors.Is(err, escrow.ErrInvariant) ||
		errors.Is(err, escrow.ErrValidation) ||
		errors.Is(err, escrow.ErrNotFound)
}

// Creator opens new transactions, alternating full and milestone types.
func Creator(ctx context.Context, svc *escrow.Service, buyerID, sellerID string, created chan<- string, stop <-chan struct{}) error {
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		n++

		params := escrow.CreateParams{
			OrderID:     fmt.Sprintf("order-%d-%d", rand.Int63(), n),
			BuyerID:     buyerID,
			SellerID:    sellerID,
			TotalAmount: 90000,
			Currency:    "USD",
			Type:        escrow.TypeFull,
			ActorID:     buyerID,
		}
		if n%2 == 0 {
			params.Type = escrow.TypeMilestone
			params.Milestones = []escrow.MilestoneParams{
				{Name: "design", Amount: 30000},
				{Name: "build", Amount: 40000},
				{Name: "deliver", Amount: 20000},
			}
		}

		txn, err := svc.Create(ctx, params)
		if err != nil {
			if expected(err) || errors.Is(ctx.Err(), context.Canceled) {
				continue
			}
			return fmt.Errorf("creator: %w", err)
		}
		select {
		case created <- txn.ID:
		default:
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Releaser races to release milestones and full payments on known transactions.
func Releaser(ctx context.Context, svc *escrow.Service, ids func() string, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id := ids()
		if id == "" {
			time.Sleep(20 * time.Millisecond)
			continue
		}

		txn, err := svc.Get(ctx, id)
		if err != nil {
			if expected(err) || ctx.Err() != nil {
				continue
			}
			return fmt.Errorf("releaser get: %w", err)
		}

		if txn.Type == escrow.TypeFull {
			_, err = svc.ReleaseFullPayment(ctx, id, actorID, "stress release")
		} else if pending := txn.PendingMilestones(); len(pending) > 0 {
			_, err = svc.ReleaseMilestone(ctx, id, pending[rand.Intn(len(pending))].ID, actorID, "stress release")
		}
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("releaser: %w", err)
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Disputer files disputes and later resolves them with random awards.
func Disputer(ctx context.Context, svc *dispute.Service, ids func() string, arbiterID string, stop <-chan struct{}) error {
	awards := []dispute.Award{dispute.AwardBuyer, dispute.AwardSeller, dispute.AwardSplit}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id := ids()
		if id == "" {
			time.Sleep(30 * time.Millisecond)
			continue
		}

		rec, err := svc.File(ctx, dispute.FileParams{
			TransactionID: id,
			Initiator:     dispute.PartyBuyer,
			ActorID:       arbiterID,
			Reason:        "stress dispute",
		})
		if err != nil {
			if expected(err) || ctx.Err() != nil {
				time.Sleep(30 * time.Millisecond)
				continue
			}
			return fmt.Errorf("disputer file: %w", err)
		}

		if _, err := svc.StartReview(ctx, id, rec.ID); err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("disputer review: %w", err)
		}

		_, err = svc.Resolve(ctx, dispute.ResolveParams{
			TransactionID: id,
			DisputeID:     rec.ID,
			ResolverID:    arbiterID,
			Resolution:    "stress resolution",
			Award:         awards[rand.Intn(len(awards))],
		})
		if err != nil && !expected(err) && ctx.Err() == nil {
			return fmt.Errorf("disputer resolve: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// Canceller randomly abandons live transactions.
func Canceller(ctx context.Context, svc *escrow.Service, ids func() string, actorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		id := ids()
		if id != "" {
			if _, err := svc.Cancel(ctx, id, actorID, "stress cancel"); err != nil && !expected(err) && ctx.Err() == nil {
				return fmt.Errorf("canceller: %w", err)
			}
		}
		time.Sleep(time.Duration(80+rand.Intn(120)) * time.Millisecond)
	}
}

// OutboxWorker drains pending outbox messages with SKIP LOCKED, simulating
// occasional delivery failure.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE processed_at IS NULL ORDER BY id LIMIT 10 FOR UPDATE SKIP LOCKED`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]int64, 0, 10)
		for rows.Next() {
			var id int64
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts = attempts + 1 WHERE id = $1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET processed_at = now() WHERE id = $1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
