package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/audit"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AuditWriter appends one immutable record per accepted mutation.
type AuditWriter interface {
	Append(ctx context.Context, tx pgx.Tx, entry audit.Entry) error
}

// OutboxWriter enqueues a transactional outbox event for collaborators.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// BalanceRecomputer refreshes the derived per-user escrow accounts inside the
// same database transaction as the mutation they reflect.
type BalanceRecomputer interface {
	RecomputeInTx(ctx context.Context, tx pgx.Tx, userIDs ...string) error
}

// Service owns the escrow transaction state machine. Every mutating call
// follows the same shape: open a database transaction, take the per-id row
// lock, validate against the status enum, write the change plus exactly one
// audit record and one outbox event, refresh both parties' balances, commit.
// A failure anywhere rolls the whole mutation back.
type Service struct {
	pool     TxBeginner
	repo     Repository
	trail    AuditWriter
	outbox   OutboxWriter
	accounts BalanceRecomputer
	idGen    func() string
	now      func() time.Time
}

func NewService(pool TxBeginner, repo Repository, trail AuditWriter, outbox OutboxWriter, accounts BalanceRecomputer) *Service {
	return &Service{
		pool:     pool,
		repo:     repo,
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

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Get returns a transaction snapshot without taking locks.
func (s *Service) Get(ctx context.Context, id string) (Transaction, error) {
	return s.repo.Get(ctx, id)
}

// Create validates the inbound request and opens a new transaction in
// pending status with a single created record. Milestones supplied for a
// milestone-type transaction must sum exactly to the total amount.
func (s *Service) Create(ctx context.Context, params CreateParams) (Transaction, error) {
	if err := validateCreate(params); err != nil {
		return Transaction{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, storagef("begin create", err)
	}
	defer tx.Rollback(ctx)

	var autoRelease *time.Time
	if params.HoldingPeriodDays > 0 {
		t := s.now().AddDate(0, 0, params.HoldingPeriodDays)
		autoRelease = &t
	}

	txn := Transaction{
		ID:                   s.idGen(),
		OrderID:              params.OrderID,
		BuyerID:              params.BuyerID,
		SellerID:             params.SellerID,
		BuyerName:            params.BuyerName,
		SellerName:           params.SellerName,
		TotalAmount:          params.TotalAmount,
		Currency:             params.Currency,
		Type:                 params.Type,
		Status:               StatusPending,
		ReleaseConditions:    params.ReleaseConditions,
		DeliveryDeadline:     params.DeliveryDeadline,
		QualityCheckRequired: params.QualityCheckRequired,
		AutoReleaseAt:        autoRelease,
		HoldingPeriodDays:    params.HoldingPeriodDays,
	}

	created, err := s.repo.Insert(ctx, tx, txn)
	if err != nil {
		return Transaction{}, err
	}

	for i, mp := range params.Milestones {
		m := Milestone{
			ID:            s.idGen(),
			TransactionID: created.ID,
			Position:      i + 1,
			Name:          mp.Name,
			Description:   mp.Description,
			Amount:        mp.Amount,
			Percentage:    percentageOf(mp.Amount, created.TotalAmount),
			DueDate:       mp.DueDate,
			Status:        MilestonePending,
			Notes:         mp.Notes,
		}
		inserted, err := s.repo.InsertMilestone(ctx, tx, m)
		if err != nil {
			return Transaction{}, err
		}
		created.Milestones = append(created.Milestones, inserted)
	}

	amount := created.TotalAmount
	entry := audit.Entry{
		TransactionID: created.ID,
		Type:          audit.TypeCreated,
		Amount:        &amount,
		Description:   fmt.Sprintf("escrow transaction created for order %s", created.OrderID),
		ActorID:       optional(params.ActorID),
	}
	payload := map[string]any{
		"transaction_id": created.ID,
		"order_id":       created.OrderID,
		"type":           created.Type,
		"total_amount":   created.TotalAmount,
		"currency":       created.Currency,
	}
	if err := s.finish(ctx, tx, created, entry, "escrow.created", payload); err != nil {
		return Transaction{}, err
	}

	return created, nil
}

// Hold freezes the funds: the transaction parks in pending with no party
// action outstanding. Legal from pending and active only.
func (s *Service) Hold(ctx context.Context, id, actorID string) (Transaction, error) {
	return s.transition(ctx, transitionParams{
		ID:          id,
		ActorID:     actorID,
		Next:        StatusPending,
		RecordType:  audit.TypePaymentHeld,
		Topic:       "escrow.payment_held",
		Description: "payment held in escrow",
		WithAmount:  true,
	})
}

// Activate marks the transaction as in progress and stamps startedAt.
func (s *Service) Activate(ctx context.Context, id, actorID string) (Transaction, error) {
	return s.transition(ctx, transitionParams{
		ID:           id,
		ActorID:      actorID,
		Next:         StatusActive,
		RecordType:   audit.TypeActivated,
		Topic:        "escrow.activated",
		Description:  "escrow transaction activated",
		StampStarted: true,
	})
}

// ReleaseFullPayment completes a full-type transaction in one step.
// Milestone-type transactions must release milestone by milestone.
func (s *Service) ReleaseFullPayment(ctx context.Context, id, actorID, reason string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, storagef("begin release", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if txn.Type != TypeFull {
		return Transaction{}, fmt.Errorf("%w: milestone transactions release per milestone", ErrInvalidState)
	}
	if !CanTransition(txn.Status, StatusCompleted) || txn.Status == StatusDisputed {
		return Transaction{}, fmt.Errorf("%w: release from %s", ErrInvalidState, txn.Status)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, StatusChange{ID: id, Status: StatusCompleted, StampCompleted: true})
	if err != nil {
		return Transaction{}, err
	}

	amount := updated.TotalAmount
	entry := audit.Entry{
		TransactionID: updated.ID,
		Type:          audit.TypePaymentReleased,
		Amount:        &amount,
		Description:   releaseDescription("full payment released", reason),
		ActorID:       optional(actorID),
	}
	payload := map[string]any{
		"transaction_id": updated.ID,
		"amount":         updated.TotalAmount,
		"reason":         reason,
	}
	if err := s.finish(ctx, tx, updated, entry, "escrow.payment_released", payload); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// Cancel abandons the transaction. Only pending and active transactions can
// be cancelled; the transition is irreversible.
func (s *Service) Cancel(ctx context.Context, id, actorID, reason string) (Transaction, error) {
	return s.transition(ctx, transitionParams{
		ID:          id,
		ActorID:     actorID,
		Next:        StatusCancelled,
		RecordType:  audit.TypeCancelled,
		Topic:       "escrow.cancelled",
		Description: releaseDescription("escrow transaction cancelled", reason),
		Reason:      reason,
	})
}

// AutoRelease is the system-initiated completion driven by the holding
// period worker once autoReleaseAt has passed. Full-type transactions only.
func (s *Service) AutoRelease(ctx context.Context, id string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, storagef("begin auto-release", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}
	if txn.Type != TypeFull {
		return Transaction{}, fmt.Errorf("%w: auto-release applies to full transactions", ErrInvalidState)
	}
	if txn.Status != StatusPending && txn.Status != StatusActive {
		return Transaction{}, fmt.Errorf("%w: auto-release from %s", ErrInvalidState, txn.Status)
	}
	if txn.AutoReleaseAt == nil || txn.AutoReleaseAt.After(s.now()) {
		return Transaction{}, fmt.Errorf("%w: auto-release window not reached", ErrInvalidState)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, StatusChange{ID: id, Status: StatusCompleted, StampCompleted: true})
	if err != nil {
		return Transaction{}, err
	}

	amount := updated.TotalAmount
	entry := audit.Entry{
		TransactionID: updated.ID,
		Type:          audit.TypeCompleted,
		Amount:        &amount,
		Description:   "holding period elapsed, payment auto-released",
	}
	payload := map[string]any{
		"transaction_id": updated.ID,
		"amount":         updated.TotalAmount,
	}
	if err := s.finish(ctx, tx, updated, entry, "escrow.auto_released", payload); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

type transitionParams struct {
	ID           string
	ActorID      string
	Next         Status
	RecordType   audit.RecordType
	Topic        string
	Description  string
	Reason       string
	StampStarted bool
	WithAmount   bool
}

func (s *Service) transition(ctx context.Context, p transitionParams) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, storagef("begin transition", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.repo.GetForUpdate(ctx, tx, p.ID)
	if err != nil {
		return Transaction{}, err
	}
	if txn.Status == StatusDisputed || !CanTransition(txn.Status, p.Next) {
		return Transaction{}, fmt.Errorf("%w: %s -> %s", ErrInvalidState, txn.Status, p.Next)
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, StatusChange{ID: p.ID, Status: p.Next, StampStarted: p.StampStarted})
	if err != nil {
		return Transaction{}, err
	}

	entry := audit.Entry{
		TransactionID: updated.ID,
		Type:          p.RecordType,
		Description:   p.Description,
		ActorID:       optional(p.ActorID),
	}
	if p.WithAmount {
		amount := updated.TotalAmount
		entry.Amount = &amount
	}
	payload := map[string]any{
		"transaction_id": updated.ID,
		"status":         updated.Status,
	}
	if p.Reason != "" {
		payload["reason"] = p.Reason
	}
	if err := s.finish(ctx, tx, updated, entry, p.Topic, payload); err != nil {
		return Transaction{}, err
	}
	return updated, nil
}

// finish writes the audit record and outbox event, refreshes both parties'
// balances, and commits. Called with every write of the mutation already in
// the transaction.
func (s *Service) finish(ctx context.Context, tx pgx.Tx, txn Transaction, entry audit.Entry, topic string, payload map[string]any) error {
	if err := s.trail.Append(ctx, tx, entry); err != nil {
		return fmt.Errorf("escrow: append audit record: %w", err)
	}
	if s.outbox != nil {
		if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return fmt.Errorf("escrow: enqueue outbox: %w", err)
		}
	}
	if s.accounts != nil {
		if err := s.accounts.RecomputeInTx(ctx, tx, txn.BuyerID, txn.SellerID); err != nil {
			return fmt.Errorf("escrow: recompute balances: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return storagef("commit mutation", err)
	}
	return nil
}

func validateCreate(params CreateParams) error {
	if params.BuyerID == "" || params.SellerID == "" {
		return fmt.Errorf("%w: buyer and seller are required", ErrValidation)
	}
	if params.BuyerID == params.SellerID {
		return fmt.Errorf("%w: buyer and seller must differ", ErrValidation)
	}
	if params.OrderID == "" {
		return fmt.Errorf("%w: order reference is required", ErrValidation)
	}
	if params.TotalAmount <= 0 {
		return fmt.Errorf("%w: total amount must be positive", ErrValidation)
	}
	if len(params.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	if !ValidType(params.Type) {
		return fmt.Errorf("%w: unknown transaction type %q", ErrValidation, params.Type)
	}
	if params.HoldingPeriodDays < 0 {
		return fmt.Errorf("%w: holding period cannot be negative", ErrValidation)
	}

	switch params.Type {
	case TypeFull:
		if len(params.Milestones) > 0 {
			return fmt.Errorf("%w: full transactions take no milestones", ErrValidation)
		}
	case TypeMilestone:
		if len(params.Milestones) == 0 {
			return fmt.Errorf("%w: milestone transactions need at least one milestone", ErrValidation)
		}
		var sum int64
		for i, m := range params.Milestones {
			if m.Amount <= 0 {
				return fmt.Errorf("%w: milestone %d amount must be positive", ErrValidation, i+1)
			}
			if m.Name == "" {
				return fmt.Errorf("%w: milestone %d name is required", ErrValidation, i+1)
			}
			sum += m.Amount
		}
		if sum != params.TotalAmount {
			return fmt.Errorf("%w: milestone amounts sum to %d, total is %d", ErrValidation, sum, params.TotalAmount)
		}
	}
	return nil
}

func percentageOf(amount, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(amount) * 100 / float64(total)
}

func releaseDescription(base, reason string) string {
	if reason == "" {
		return base
	}
	return base + ": " + reason
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
