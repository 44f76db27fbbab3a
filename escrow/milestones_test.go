package escrow

import (
	"context"
	"errors"
	"testing"

	"escrowflow/audit"
)

func milestoneTxn() Transaction {
	return Transaction{
		ID:          "t1",
		BuyerID:     "b",
		SellerID:    "s",
		TotalAmount: 1000,
		Type:        TypeMilestone,
		Status:      StatusPending,
		Milestones: []Milestone{
			{ID: "m1", TransactionID: "t1", Position: 1, Name: "first", Amount: 400, Status: MilestonePending},
			{ID: "m2", TransactionID: "t1", Position: 2, Name: "second", Amount: 600, Status: MilestonePending},
		},
	}
}

func TestAddMilestone(t *testing.T) {
	txn := milestoneTxn()
	txn.TotalAmount = 1500
	repo := &fakeRepo{txn: txn}
	svc, _, trail, _, _ := newTestService(repo)

	m, err := svc.AddMilestone(context.Background(), "t1", "b", MilestoneParams{Name: "third", Amount: 500})
	if err != nil {
		t.Fatalf("add milestone: %v", err)
	}
	if m.Position != 3 {
		t.Errorf("expected position 3, got %d", m.Position)
	}
	entry := trail.entries[0]
	if entry.Type != audit.TypeMilestoneCreated || entry.MilestoneID == nil {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestAddMilestone_ExceedsTotal(t *testing.T) {
	repo := &fakeRepo{txn: milestoneTxn()}
	svc, pool, _, _, _ := newTestService(repo)

	_, err := svc.AddMilestone(context.Background(), "t1", "b", MilestoneParams{Name: "extra", Amount: 1})
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if pool.tx.committed {
		t.Error("must not commit")
	}
}

func TestAddMilestone_FullType(t *testing.T) {
	repo := &fakeRepo{txn: Transaction{ID: "t1", Type: TypeFull, Status: StatusPending, TotalAmount: 100}}
	svc, _, _, _, _ := newTestService(repo)

	_, err := svc.AddMilestone(context.Background(), "t1", "b", MilestoneParams{Name: "m", Amount: 50})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestAddMilestone_Validation(t *testing.T) {
	repo := &fakeRepo{txn: milestoneTxn()}
	svc, _, _, _, _ := newTestService(repo)

	if _, err := svc.AddMilestone(context.Background(), "t1", "b", MilestoneParams{Amount: 10}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing name, got %v", err)
	}
	if _, err := svc.AddMilestone(context.Background(), "t1", "b", MilestoneParams{Name: "m", Amount: 0}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}
}

func TestReleaseMilestone_FirstActivates(t *testing.T) {
	repo := &fakeRepo{txn: milestoneTxn()}
	svc, _, trail, _, _ := newTestService(repo)

	txn, err := svc.ReleaseMilestone(context.Background(), "t1", "m1", "b", "approved")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if txn.Status != StatusActive {
		t.Errorf("expected active after first release, got %s", txn.Status)
	}
	if !repo.updates[0].StampStarted {
		t.Error("first release should stamp startedAt")
	}
	if repo.current != 1 {
		t.Errorf("current milestone should advance to index 1, got %d", repo.current)
	}
	entry := trail.entries[0]
	if entry.Type != audit.TypeMilestoneReleased || *entry.Amount != 400 {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

func TestReleaseMilestone_LastCompletes(t *testing.T) {
	txn := milestoneTxn()
	txn.Status = StatusActive
	txn.Milestones[0].Status = MilestoneReleased
	repo := &fakeRepo{txn: txn}
	svc, _, _, _, _ := newTestService(repo)

	updated, err := svc.ReleaseMilestone(context.Background(), "t1", "m2", "b", "")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("expected completed after last release, got %s", updated.Status)
	}
	if !repo.updates[0].StampCompleted {
		t.Error("last release should stamp completedAt")
	}
}

func TestReleaseMilestone_SumMismatchBlocksCompletion(t *testing.T) {
	txn := milestoneTxn()
	txn.Status = StatusActive
	txn.TotalAmount = 1200
	txn.Milestones[0].Status = MilestoneReleased
	repo := &fakeRepo{txn: txn}
	svc, pool, _, _, _ := newTestService(repo)

	_, err := svc.ReleaseMilestone(context.Background(), "t1", "m2", "b", "")
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	if pool.tx.committed {
		t.Error("must not commit on invariant failure")
	}
}

func TestReleaseMilestone_UnknownID(t *testing.T) {
	repo := &fakeRepo{txn: milestoneTxn()}
	svc, _, _, _, _ := newTestService(repo)

	if _, err := svc.ReleaseMilestone(context.Background(), "t1", "nope", "b", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReleaseMilestone_AlreadyReleased(t *testing.T) {
	txn := milestoneTxn()
	txn.Milestones[0].Status = MilestoneReleased
	repo := &fakeRepo{txn: txn}
	svc, _, _, _, _ := newTestService(repo)

	if _, err := svc.ReleaseMilestone(context.Background(), "t1", "m1", "b", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestReleaseMilestone_Disputed(t *testing.T) {
	txn := milestoneTxn()
	txn.Status = StatusDisputed
	repo := &fakeRepo{txn: txn}
	svc, _, _, _, _ := newTestService(repo)

	if _, err := svc.ReleaseMilestone(context.Background(), "t1", "m1", "b", ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
