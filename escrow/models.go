package escrow

import "time"

// Transaction is the root escrow entity. Amounts are integer minor currency
// units (cents, kobo); no floating point money anywhere.
type Transaction struct {
	ID                   string
	OrderID              string
	BuyerID              string
	SellerID             string
	BuyerName            string
	SellerName           string
	TotalAmount          int64
	Currency             string
	Type                 Type
	Status               Status
	CurrentMilestone     int
	ReleaseConditions    string
	DeliveryDeadline     *time.Time
	QualityCheckRequired bool
	QualityCheckPassed   *bool
	AutoReleaseAt        *time.Time
	HoldingPeriodDays    int
	StartedAt            *time.Time
	CompletedAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Milestones           []Milestone
}

// Milestone is an independently releasable slice of a milestone-type
// transaction. Owned by exactly one transaction; the ordered list is never
// reordered after creation, only status and timestamps mutate.
type Milestone struct {
	ID            string
	TransactionID string
	Position      int
	Name          string
	Description   string
	Amount        int64
	Percentage    float64
	DueDate       *time.Time
	Status        MilestoneStatus
	ReleasedAt    *time.Time
	Notes         string
	CreatedAt     time.Time
}

// CreateParams carries the inbound transaction-creation request from the
// order/checkout collaborator.
type CreateParams struct {
	OrderID              string
	BuyerID              string
	SellerID             string
	BuyerName            string
	SellerName           string
	TotalAmount          int64
	Currency             string
	Type                 Type
	Milestones           []MilestoneParams
	ReleaseConditions    string
	DeliveryDeadline     *time.Time
	QualityCheckRequired bool
	HoldingPeriodDays    int
	ActorID              string
}

// MilestoneParams describes one milestone at creation or append time.
type MilestoneParams struct {
	Name        string
	Description string
	Amount      int64
	DueDate     *time.Time
	Notes       string
}

// PendingMilestones returns the milestones still awaiting release.
func (t Transaction) PendingMilestones() []Milestone {
	out := make([]Milestone, 0, len(t.Milestones))
	for _, m := range t.Milestones {
		if m.Status == MilestonePending {
			out = append(out, m)
		}
	}
	return out
}

// MilestoneSum is the running total across all milestones regardless of
// status.
func (t Transaction) MilestoneSum() int64 {
	var sum int64
	for _, m := range t.Milestones {
		sum += m.Amount
	}
	return sum
}

// FindMilestone looks a milestone up by id within the owned list.
func (t Transaction) FindMilestone(id string) (Milestone, bool) {
	for _, m := range t.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return Milestone{}, false
}
