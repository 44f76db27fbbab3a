package audit

import "time"

// RecordType enumerates the events an escrow transaction can accumulate.
type RecordType string

const (
	TypeCreated           RecordType = "created"
	TypeActivated         RecordType = "activated"
	TypeMilestoneCreated  RecordType = "milestone_created"
	TypeMilestoneReleased RecordType = "milestone_released"
	TypePaymentHeld       RecordType = "payment_held"
	TypePaymentReleased   RecordType = "payment_released"
	TypeDisputeFiled      RecordType = "dispute_filed"
	TypeDisputeResolved   RecordType = "dispute_resolved"
	TypeCompleted         RecordType = "completed"
	TypeCancelled         RecordType = "cancelled"
)

// ValidType reports whether rt is a known record type.
func ValidType(rt RecordType) bool {
	switch rt {
	case TypeCreated, TypeActivated, TypeMilestoneCreated, TypeMilestoneReleased,
		TypePaymentHeld, TypePaymentReleased, TypeDisputeFiled, TypeDisputeResolved,
		TypeCompleted, TypeCancelled:
		return true
	default:
		return false
	}
}

// Record is one immutable audit-trail entry. Rows are never edited or
// removed; Seq orders them within a transaction.
type Record struct {
	ID            string
	TransactionID string
	Seq           int
	Type          RecordType
	Amount        *int64
	Description   string
	ActorID       *string
	MilestoneID   *string
	CreatedAt     time.Time
}

// Entry is the write-side shape handed to Append by the mutating services.
type Entry struct {
	TransactionID string
	Type          RecordType
	Amount        *int64
	Description   string
	ActorID       *string
	MilestoneID   *string
}
