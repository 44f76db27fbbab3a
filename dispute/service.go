package dispute

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/audit"
	"escrowflow/escrow"
)

// Service arbitrates disputes. Filing forces the parent transaction into
// disputed regardless of its previous status; resolving maps the award onto
// the final transaction status deterministically. All mutations run under
// the parent transaction's row lock, in the same database transaction as
// their audit record and balance recompute.
type Service struct {
	pool     escrow.TxBeginner
	repo     Repository
	txns     escrow.Repository
	trail    escrow.AuditWriter
	outbox   escrow.OutboxWriter
	accounts escrow.BalanceRecomputer
	idGen    func() string
	now      func() time.Time
}

func NewService(pool escrow.TxBeginner, repo Repository, txns escrow.Repository, trail escrow.AuditWriter, outbox escrow.OutboxWriter, accounts escrow.BalanceRecomputer) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
		txns:     txns,
		trail:    trail,
		outbox:   outbox,
		accounts: accounts,
		idGen:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

// File opens a dispute against any non-terminal transaction. The transaction
// is forced to disputed even from pending, and its pending milestones are
// frozen until the dispute resolves.
func (s *Service) File(ctx context.Context, params FileParams) (Record, error) {
	if !ValidParty(params.Initiator) {
		return Record{}, fmt.Errorf("%w: unknown initiator %q", escrow.ErrValidation, params.Initiator)
	}
	if params.Reason == "" {
		return Record{}, fmt.Errorf("%w: dispute reason is required", escrow.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin file: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.txns.GetForUpdate(ctx, tx, params.TransactionID)
	if err != nil {
		return Record{}, err
	}
	if escrow.Terminal(txn.Status) {
		return Record{}, fmt.Errorf("%w: dispute against %s transaction", escrow.ErrInvalidState, txn.Status)
	}

	rec := Record{
		ID:            s.idGen(),
		TransactionID: txn.ID,
		Initiator:     params.Initiator,
		Reason:        params.Reason,
		Description:   params.Description,
		Status:        StatusOpen,
		Evidence:      params.Evidence,
	}
	created, err := s.repo.Insert(ctx, tx, rec)
	if err != nil {
		return Record{}, err
	}

	updated := txn
	if txn.Status != escrow.StatusDisputed {
		updated, err = s.txns.UpdateStatus(ctx, tx, escrow.StatusChange{ID: txn.ID, Status: escrow.StatusDisputed})
		if err != nil {
			return Record{}, err
		}
	}
	if err := s.txns.RetagMilestones(ctx, tx, txn.ID, escrow.MilestonePending, escrow.MilestoneDisputed); err != nil {
		return Record{}, err
	}

	entry := audit.Entry{
		TransactionID: txn.ID,
		Type:          audit.TypeDisputeFiled,
		Description:   fmt.Sprintf("dispute filed by %s: %s", created.Initiator, created.Reason),
		ActorID:       actorPtr(params.ActorID),
	}
	payload := map[string]any{
		"transaction_id": txn.ID,
		"dispute_id":     created.ID,
		"initiator":      created.Initiator,
	}
	if err := s.finish(ctx, tx, updated, entry, "escrow.dispute_filed", payload); err != nil {
		return Record{}, err
	}
	return created, nil
}

// StartReview moves an open dispute to under_review. This annotates the
// dispute only; the transaction status and audit trail are untouched, but
// the parent row lock is still taken so the write serializes with other
// mutations on the same transaction.
func (s *Service) StartReview(ctx context.Context, transactionID, disputeID string) (Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin review: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.txns.GetForUpdate(ctx, tx, transactionID); err != nil {
		return Record{}, err
	}

	rec, err := s.repo.GetForUpdate(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.TransactionID != transactionID {
		return Record{}, fmt.Errorf("%w: dispute %s", escrow.ErrNotFound, disputeID)
	}
	if rec.Status != StatusOpen {
		return Record{}, fmt.Errorf("%w: review from %s", escrow.ErrInvalidState, rec.Status)
	}

	updated, err := s.repo.MarkUnderReview(ctx, tx, disputeID)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit review: %w", err)
	}
	return updated, nil
}

// Resolve closes out a dispute with an award. Buyer and seller awards finish
// the transaction (remaining open disputes are administratively closed and
// frozen milestones marked completed); a split award reverts frozen
// milestones to pending and reopens the transaction for normal operation,
// unless other unresolved disputes still hold it in disputed.
func (s *Service) Resolve(ctx context.Context, params ResolveParams) (Record, error) {
	if !ValidAward(params.Award) {
		return Record{}, fmt.Errorf("%w: unknown award %q", escrow.ErrValidation, params.Award)
	}
	if params.Resolution == "" {
		return Record{}, fmt.Errorf("%w: resolution text is required", escrow.ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin resolve: %w", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.txns.GetForUpdate(ctx, tx, params.TransactionID)
	if err != nil {
		return Record{}, err
	}
	if escrow.Terminal(txn.Status) {
		return Record{}, fmt.Errorf("%w: resolve against %s transaction", escrow.ErrInvalidState, txn.Status)
	}

	rec, err := s.repo.GetForUpdate(ctx, tx, params.DisputeID)
	if err != nil {
		return Record{}, err
	}
	if rec.TransactionID != txn.ID {
		return Record{}, fmt.Errorf("%w: dispute %s", escrow.ErrNotFound, params.DisputeID)
	}
	if Terminal(rec.Status) {
		return Record{}, fmt.Errorf("%w: dispute already %s", escrow.ErrInvalidState, rec.Status)
	}

	resolved, err := s.repo.MarkResolved(ctx, tx, params.DisputeID, params.ResolverID, params.Resolution)
	if err != nil {
		return Record{}, err
	}

	unresolved, err := s.repo.CountUnresolved(ctx, tx, txn.ID, params.DisputeID)
	if err != nil {
		return Record{}, err
	}

	var updated escrow.Transaction
	switch params.Award {
	case AwardBuyer, AwardSeller:
		if err := s.repo.CloseOpen(ctx, tx, txn.ID, params.DisputeID); err != nil {
			return Record{}, err
		}
		if err := s.txns.RetagMilestones(ctx, tx, txn.ID, escrow.MilestoneDisputed, escrow.MilestoneCompleted); err != nil {
			return Record{}, err
		}
		updated, err = s.txns.UpdateStatus(ctx, tx, escrow.StatusChange{ID: txn.ID, Status: escrow.StatusCompleted, StampCompleted: true})
	case AwardSplit:
		if err := s.txns.RetagMilestones(ctx, tx, txn.ID, escrow.MilestoneDisputed, escrow.MilestonePending); err != nil {
			return Record{}, err
		}
		next := escrow.StatusActive
		if unresolved > 0 {
			next = escrow.StatusDisputed
		}
		updated, err = s.txns.UpdateStatus(ctx, tx, escrow.StatusChange{ID: txn.ID, Status: next, StampStarted: next == escrow.StatusActive})
	}
	if err != nil {
		return Record{}, err
	}

	entry := audit.Entry{
		TransactionID: txn.ID,
		Type:          audit.TypeDisputeResolved,
		Description:   fmt.Sprintf("dispute resolved in favor of %s: %s", params.Award, params.Resolution),
		ActorID:       actorPtr(params.ResolverID),
	}
	payload := map[string]any{
		"transaction_id": txn.ID,
		"dispute_id":     resolved.ID,
		"award":          params.Award,
		"status":         updated.Status,
	}
	if err := s.finish(ctx, tx, updated, entry, "escrow.dispute_resolved", payload); err != nil {
		return Record{}, err
	}
	return resolved, nil
}

func (s *Service) finish(ctx context.Context, tx pgx.Tx, txn escrow.Transaction, entry audit.Entry, topic string, payload map[string]any) error {
	if err := s.trail.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("dispute: append audit record: %w", err)
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return fmt.Errorf("dispute: enqueue outbox: %w", err)
		}
	}
	if s.accounts != nil {
		if err := s.accounts.RecomputeInTx(ctx, tx, txn.BuyerID, txn.SellerID); err != nil {
			return fmt.Errorf("dispute: recompute balances: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit: %w", err)
	}
	return nil
}

func actorPtr(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
