package httpapi

import (
	"time"

	"escrowflow/account"
	"escrowflow/audit"
	"escrowflow/dispute"
	"escrowflow/escrow"
)

type transactionResponse struct {
	ID                   string              `json:"id"`
	OrderID              string              `json:"order_id"`
	BuyerID              string              `json:"buyer_id"`
	SellerID             string              `json:"seller_id"`
	BuyerName            string              `json:"buyer_name,omitempty"`
	SellerName           string              `json:"seller_name,omitempty"`
	TotalAmount          int64               `json:"total_amount"`
	Currency             string              `json:"currency"`
	Type                 string              `json:"type"`
	Status               string              `json:"status"`
	CurrentMilestone     int                 `json:"current_milestone"`
	ReleaseConditions    string              `json:"release_conditions,omitempty"`
	DeliveryDeadline     *time.Time          `json:"delivery_deadline,omitempty"`
	QualityCheckRequired bool                `json:"quality_check_required"`
	QualityCheckPassed   *bool               `json:"quality_check_passed,omitempty"`
	AutoReleaseAt        *time.Time          `json:"auto_release_at,omitempty"`
	HoldingPeriodDays    int                 `json:"holding_period_days"`
	StartedAt            *time.Time          `json:"started_at,omitempty"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	Milestones           []milestoneResponse `json:"milestones,omitempty"`
}

type milestoneResponse struct {
	ID          string     `json:"id"`
	Position    int        `json:"position"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Amount      int64      `json:"amount"`
	Percentage  float64    `json:"percentage"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Status      string     `json:"status"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

type disputeResponse struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transaction_id"`
	Initiator     string     `json:"initiator"`
	Reason        string     `json:"reason"`
	Description   string     `json:"description,omitempty"`
	Status        string     `json:"status"`
	Evidence      []string   `json:"evidence,omitempty"`
	Resolution    *string    `json:"resolution,omitempty"`
	ResolvedBy    *string    `json:"resolved_by,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}

type auditRecordResponse struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	Type        string    `json:"type"`
	Amount      *int64    `json:"amount,omitempty"`
	Description string    `json:"description"`
	ActorID     *string   `json:"actor_id,omitempty"`
	MilestoneID *string   `json:"milestone_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type balanceResponse struct {
	UserID         string    `json:"user_id"`
	Currency       string    `json:"currency"`
	TotalHeld      int64     `json:"total_held"`
	TotalReleased  int64     `json:"total_released"`
	TotalInDispute int64     `json:"total_in_dispute"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

func toTransactionResponse(txn escrow.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:                   txn.ID,
		OrderID:              txn.OrderID,
		BuyerID:              txn.BuyerID,
		SellerID:             txn.SellerID,
		BuyerName:            txn.BuyerName,
		SellerName:           txn.SellerName,
		TotalAmount:          txn.TotalAmount,
		Currency:             txn.Currency,
		Type:                 string(txn.Type),
		Status:               string(txn.Status),
		CurrentMilestone:     txn.CurrentMilestone,
		ReleaseConditions:    txn.ReleaseConditions,
		DeliveryDeadline:     txn.DeliveryDeadline,
		QualityCheckRequired: txn.QualityCheckRequired,
		QualityCheckPassed:   txn.QualityCheckPassed,
		AutoReleaseAt:        txn.AutoReleaseAt,
		HoldingPeriodDays:    txn.HoldingPeriodDays,
		StartedAt:            txn.StartedAt,
		CompletedAt:          txn.CompletedAt,
		CreatedAt:            txn.CreatedAt,
		UpdatedAt:            txn.UpdatedAt,
	}
	for _, m := range txn.Milestones {
		resp.Milestones = append(resp.Milestones, toMilestoneResponse(m))
	}
	return resp
}

func toMilestoneResponse(m escrow.Milestone) milestoneResponse {
	return milestoneResponse{
		ID:          m.ID,
		Position:    m.Position,
		Name:        m.Name,
		Description: m.Description,
		Amount:      m.Amount,
		Percentage:  m.Percentage,
		DueDate:     m.DueDate,
		Status:      string(m.Status),
		ReleasedAt:  m.ReleasedAt,
		Notes:       m.Notes,
	}
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		Initiator:     string(rec.Initiator),
		Reason:        rec.Reason,
		Description:   rec.Description,
		Status:        string(rec.Status),
		Evidence:      rec.Evidence,
		Resolution:    rec.Resolution,
		ResolvedBy:    rec.ResolvedBy,
		CreatedAt:     rec.CreatedAt,
		ResolvedAt:    rec.ResolvedAt,
	}
}

func toAuditResponse(rec audit.Record) auditRecordResponse {
	return auditRecordResponse{
		ID:          rec.ID,
		Seq:         rec.Seq,
		Type:        string(rec.Type),
		Amount:      rec.Amount,
		Description: rec.Description,
		ActorID:     rec.ActorID,
		MilestoneID: rec.MilestoneID,
		CreatedAt:   rec.CreatedAt,
	}
}

func toBalanceResponse(b account.Balance) balanceResponse {
	return balanceResponse{
		UserID:         b.UserID,
		Currency:       b.Currency,
		TotalHeld:      b.TotalHeld,
		TotalReleased:  b.TotalReleased,
		TotalInDispute: b.TotalInDispute,
		UpdatedAt:      b.UpdatedAt,
	}
}
