package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowflow/query"
)

type listResponse struct {
	Items []transactionResponse `json:"items"`
	Total int                   `json:"total"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filters := query.Filters{
		UserID:    q.Get("user_id"),
		Status:    q.Get("status"),
		Type:      q.Get("type"),
		Currency:  q.Get("currency"),
		Search:    q.Get("search"),
		SortKey:   q.Get("sort"),
		SortOrder: q.Get("order"),
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("page_size"))
	if t, err := time.Parse(time.RFC3339, q.Get("from")); err == nil {
		filters.From = &t
	}
	if t, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
		filters.To = &t
	}

	result, err := s.queryService.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := listResponse{Items: []transactionResponse{}, Total: result.Total}
	for _, txn := range result.Items {
		resp.Items = append(resp.Items, toTransactionResponse(txn))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queryService.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := s.trail.ListByTransaction(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]auditRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toAuditResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOpenDisputes(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := s.queryService.OpenDisputes(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]disputeResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type upcomingMilestoneResponse struct {
	Milestone         milestoneResponse `json:"milestone"`
	TransactionID     string            `json:"transaction_id"`
	OrderID           string            `json:"order_id"`
	TransactionStatus string            `json:"transaction_status"`
}

func (s *Server) handleUpcomingMilestones(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := s.queryService.UpcomingMilestones(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]upcomingMilestoneResponse, 0, len(items))
	for _, u := range items {
		out = append(out, upcomingMilestoneResponse{
			Milestone:         toMilestoneResponse(u.Milestone),
			TransactionID:     u.TransactionID,
			OrderID:           u.OrderID,
			TransactionStatus: string(u.Status),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOwnBalance(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())
	s.writeBalances(w, r, caller.UserID)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	s.writeBalances(w, r, userID)
}

func (s *Server) writeBalances(w http.ResponseWriter, r *http.Request, userID string) {
	balances, err := s.accounts.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	writeJSON(w, http.StatusOK, out)
}
