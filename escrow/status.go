package escrow

// Status is the lifecycle state of an escrow transaction. The set is closed:
// transition checks switch exhaustively so a new status breaks compilation at
// every call site that matters.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusDisputed  Status = "disputed"
)

// Type distinguishes lump-sum transactions from milestone-based ones.
type Type string

const (
	TypeFull      Type = "full"
	TypeMilestone Type = "milestone"
)

// MilestoneStatus is the lifecycle state of a single milestone.
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneReleased  MilestoneStatus = "released"
	MilestoneDisputed  MilestoneStatus = "disputed"
	MilestoneCompleted MilestoneStatus = "completed"
)

// ValidStatus reports whether s is a known transaction status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusDisputed:
		return true
	default:
		return false
	}
}

// ValidType reports whether t is a known transaction type.
func ValidType(t Type) bool {
	switch t {
	case TypeFull, TypeMilestone:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further mutation is permitted from s.
func Terminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusPending, StatusActive, StatusDisputed:
		return false
	default:
		return false
	}
}

// CanTransition encodes the transaction state machine:
//
//	pending  -> pending | active | completed | cancelled | disputed
//	active   -> pending | completed | cancelled | disputed
//	disputed -> active | completed
//
// completed and cancelled are terminal. Transitions into pending cover a
// funds hold that parks the transaction until the next party action.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		switch to {
		case StatusPending, StatusActive, StatusCompleted, StatusCancelled, StatusDisputed:
			return true
		}
		return false
	case StatusActive:
		switch to {
		case StatusPending, StatusCompleted, StatusCancelled, StatusDisputed:
			return true
		}
		return false
	case StatusDisputed:
		switch to {
		case StatusActive, StatusCompleted:
			return true
		}
		return false
	case StatusCompleted, StatusCancelled:
		return false
	default:
		return false
	}
}
