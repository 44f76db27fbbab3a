package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen        Status = "open"
	StatusUnderReview Status = "under_review"
	StatusResolved    Status = "resolved"
	StatusClosed      Status = "closed"
)

// Terminal reports whether the dispute can no longer change.
func Terminal(s Status) bool {
	return s == StatusResolved || s == StatusClosed
}

// Party identifies which side of the transaction raised the dispute.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartySeller Party = "seller"
)

// ValidParty reports whether p is a known initiator.
func ValidParty(p Party) bool {
	return p == PartyBuyer || p == PartySeller
}

// Award is the outcome of a resolved dispute. A buyer or seller award
// finishes the transaction; a split award only unblocks it, since dividing
// the remaining funds requires further milestone configuration.
type Award string

const (
	AwardBuyer  Award = "buyer"
	AwardSeller Award = "seller"
	AwardSplit  Award = "split"
)

// ValidAward reports whether a is a known award.
func ValidAward(a Award) bool {
	switch a {
	case AwardBuyer, AwardSeller, AwardSplit:
		return true
	default:
		return false
	}
}

// Record mirrors the disputes table.
type Record struct {
	ID            string
	TransactionID string
	Initiator     Party
	Reason        string
	Description   string
	Status        Status
	Evidence      []string
	Resolution    *string
	ResolvedBy    *string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// FileParams carries a new dispute from either party.
type FileParams struct {
	TransactionID string
	Initiator     Party
	ActorID       string
	Reason        string
	Description   string
	Evidence      []string
}

// ResolveParams carries an arbiter's resolution.
type ResolveParams struct {
	TransactionID string
	DisputeID     string
	ResolverID    string
	Resolution    string
	Award         Award
}
