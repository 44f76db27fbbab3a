package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"escrowflow/escrow"
)

type createTransactionRequest struct {
	OrderID              string             `json:"order_id"`
	BuyerID              string             `json:"buyer_id"`
	SellerID             string             `json:"seller_id"`
	BuyerName            string             `json:"buyer_name"`
	SellerName           string             `json:"seller_name"`
	TotalAmount          int64              `json:"total_amount"`
	Currency             string             `json:"currency"`
	Type                 string             `json:"type"`
	Milestones           []milestoneRequest `json:"milestones"`
	ReleaseConditions    string             `json:"release_conditions"`
	DeliveryDeadline     *time.Time         `json:"delivery_deadline"`
	QualityCheckRequired bool               `json:"quality_check_required"`
	HoldingPeriodDays    int                `json:"holding_period_days"`
}

type milestoneRequest struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Amount      int64      `json:"amount"`
	DueDate     *time.Time `json:"due_date"`
	Notes       string     `json:"notes"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := callerFrom(r.Context())
	params := escrow.CreateParams{
		OrderID:              req.OrderID,
		BuyerID:              req.BuyerID,
		SellerID:             req.SellerID,
		BuyerName:            req.BuyerName,
		SellerName:           req.SellerName,
		TotalAmount:          req.TotalAmount,
		Currency:             req.Currency,
		Type:                 escrow.Type(req.Type),
		ReleaseConditions:    req.ReleaseConditions,
		DeliveryDeadline:     req.DeliveryDeadline,
		QualityCheckRequired: req.QualityCheckRequired,
		HoldingPeriodDays:    req.HoldingPeriodDays,
		ActorID:              caller.UserID,
	}
	for _, m := range req.Milestones {
		params.Milestones = append(params.Milestones, escrow.MilestoneParams{
			Name:        m.Name,
			Description: m.Description,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
			Notes:       m.Notes,
		})
	}

	txn, err := s.escrowService.Create(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionResponse(txn))
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txn, err := s.escrowService.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleHold(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.escrowService.Hold)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.escrowService.Activate)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id, actorID string) (escrow.Transaction, error)) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := callerFrom(r.Context())
	txn, err := op(r.Context(), id, caller.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleReleaseFull(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req reasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	caller, _ := callerFrom(r.Context())
	txn, err := s.escrowService.ReleaseFullPayment(r.Context(), id, caller.UserID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req reasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	caller, _ := callerFrom(r.Context())
	txn, err := s.escrowService.Cancel(r.Context(), id, caller.UserID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleAddMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req milestoneRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := callerFrom(r.Context())
	m, err := s.escrowService.AddMilestone(r.Context(), id, caller.UserID, escrow.MilestoneParams{
		Name:        req.Name,
		Description: req.Description,
		Amount:      req.Amount,
		DueDate:     req.DueDate,
		Notes:       req.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMilestoneResponse(m))
}

func (s *Server) handleReleaseMilestone(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	milestoneID, err := pathUUID(r, "milestoneID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req reasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	caller, _ := callerFrom(r.Context())
	txn, err := s.escrowService.ReleaseMilestone(r.Context(), id, milestoneID, caller.UserID, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(txn))
}

// pathUUID reads a path parameter that must be a UUID. A malformed id can
// never name a row, so it maps to not-found rather than bad-request.
func pathUUID(r *http.Request, name string) (string, error) {
	raw := chi.URLParam(r, name)
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("%w: %s %q", escrow.ErrNotFound, name, raw)
	}
	return raw, nil
}
