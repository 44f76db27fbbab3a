package escrow

import (
	"context"
	"fmt"

	"escrowflow/audit"
)

// AddMilestone appends a milestone to a live milestone-type transaction.
// The running sum across milestones may never exceed the transaction total;
// the exact sum-to-total check is enforced at create time and again before a
// release can complete the transaction.
func (s *Service) AddMilestone(ctx context.Context, transactionID, actorID string, params MilestoneParams) (Milestone, error) {
	if params.Name == "" {
		return Milestone{}, fmt.Errorf("%w: milestone name is required", ErrValidation)
	}
	if params.Amount <= 0 {
		return Milestone{}, fmt.Errorf("%w: milestone amount must be positive", ErrValidation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Milestone{}, storagef("begin add milestone", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.repo.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return Milestone{}, err
	}
	if txn.Type != TypeMilestone {
		return Milestone{}, fmt.Errorf("%w: full transactions take no milestones", ErrInvalidState)
	}
	if Terminal(txn.Status) || txn.Status == StatusDisputed {
		return Milestone{}, fmt.Errorf("%w: add milestone in %s", ErrInvalidState, txn.Status)
	}
	if txn.MilestoneSum()+params.Amount > txn.TotalAmount {
		return Milestone{}, fmt.Errorf("%w: milestone sum %d would exceed total %d",
			ErrInvariant, txn.MilestoneSum()+params.Amount, txn.TotalAmount)
	}

	m := Milestone{
		ID:            s.idGen(),
		TransactionID: txn.ID,
		Position:      len(txn.Milestones) + 1,
		Name:          params.Name,
		Description:   params.Description,
		Amount:        params.Amount,
		Percentage:    percentageOf(params.Amount, txn.TotalAmount),
		DueDate:       params.DueDate,
		Status:        MilestonePending,
		Notes:         params.Notes,
	}
	created, err := s.repo.InsertMilestone(ctx, tx, m)
	if err != nil {
		return Milestone{}, err
	}

	amount := created.Amount
	entry := audit.Entry{
		TransactionID: txn.ID,
		Type:          audit.TypeMilestoneCreated,
		Amount:        &amount,
		Description:   fmt.Sprintf("milestone %q added", created.Name),
		ActorID:       optional(actorID),
		MilestoneID:   &created.ID,
	}
	payload := map[string]any{
		"transaction_id": txn.ID,
		"milestone_id":   created.ID,
		"amount":         created.Amount,
	}
	if err := s.finish(ctx, tx, txn, entry, "escrow.milestone_created", payload); err != nil {
		return Milestone{}, err
	}
	return created, nil
}

// ReleaseMilestone releases exactly the milestone named by id; the engine
// never infers which milestone to release. The first release moves a pending
// transaction to active. Releasing the last pending milestone completes the
// parent transaction in the same mutation, provided the milestone amounts
// sum exactly to the transaction total.
func (s *Service) ReleaseMilestone(ctx context.Context, transactionID, milestoneID, actorID, reason string) (Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Transaction{}, storagef("begin release milestone", err)
	}
	defer tx.Rollback(ctx)

	txn, err := s.repo.GetForUpdate(ctx, tx, transactionID)
	if err != nil {
		return Transaction{}, err
	}
	if Terminal(txn.Status) || txn.Status == StatusDisputed {
		return Transaction{}, fmt.Errorf("%w: release milestone in %s", ErrInvalidState, txn.Status)
	}

	target, ok := txn.FindMilestone(milestoneID)
	if !ok {
		return Transaction{}, fmt.Errorf("%w: milestone %s", ErrNotFound, milestoneID)
	}
	if target.Status != MilestonePending {
		return Transaction{}, fmt.Errorf("%w: milestone is %s, only pending milestones release", ErrInvalidState, target.Status)
	}

	released, err := s.repo.UpdateMilestoneStatus(ctx, tx, milestoneID, MilestoneReleased, true)
	if err != nil {
		return Transaction{}, err
	}

	remaining := 0
	nextIndex := len(txn.Milestones)
	for _, m := range txn.Milestones {
		if m.ID == released.ID || m.Status != MilestonePending {
			continue
		}
		remaining++
		if m.Position-1 < nextIndex {
			nextIndex = m.Position - 1
		}
	}

	change := StatusChange{ID: txn.ID, Status: txn.Status}
	if remaining == 0 {
		if txn.MilestoneSum() != txn.TotalAmount {
			return Transaction{}, fmt.Errorf("%w: milestone amounts sum to %d, total is %d",
				ErrInvariant, txn.MilestoneSum(), txn.TotalAmount)
		}
		change.Status = StatusCompleted
		change.StampCompleted = true
	} else if txn.Status == StatusPending {
		change.Status = StatusActive
		change.StampStarted = true
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, change)
	if err != nil {
		return Transaction{}, err
	}
	if err := s.repo.SetCurrentMilestone(ctx, tx, txn.ID, nextIndex); err != nil {
		return Transaction{}, err
	}
	updated.CurrentMilestone = nextIndex

	amount := released.Amount
	entry := audit.Entry{
		TransactionID: txn.ID,
		Type:          audit.TypeMilestoneReleased,
		Amount:        &amount,
		Description:   releaseDescription(fmt.Sprintf("milestone %q released", released.Name), reason),
		ActorID:       optional(actorID),
		MilestoneID:   &released.ID,
	}
	payload := map[string]any{
		"transaction_id": txn.ID,
		"milestone_id":   released.ID,
		"amount":         released.Amount,
		"status":         updated.Status,
	}
	if err := s.finish(ctx, tx, updated, entry, "escrow.milestone_released", payload); err != nil {
		return Transaction{}, err
	}

	// read back so callers observe the committed milestone list
	fresh, err := s.repo.Get(ctx, txn.ID)
	if err != nil {
		return updated, nil
	}
	return fresh, nil
}
