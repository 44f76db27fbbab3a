package httpapi

import (
	"net/http"

	"escrowflow/dispute"
)

type fileDisputeRequest struct {
	Initiator   string   `json:"initiator"`
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

type resolveDisputeRequest struct {
	Award      string `json:"award"`
	Resolution string `json:"resolution"`
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req fileDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := callerFrom(r.Context())
	rec, err := s.disputeService.File(r.Context(), dispute.FileParams{
		TransactionID: id,
		Initiator:     dispute.Party(req.Initiator),
		ActorID:       caller.UserID,
		Reason:        req.Reason,
		Description:   req.Description,
		Evidence:      req.Evidence,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	disputeID, err := pathUUID(r, "disputeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rec, err := s.disputeService.StartReview(r.Context(), id, disputeID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	disputeID, err := pathUUID(r, "disputeID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req resolveDisputeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	caller, _ := callerFrom(r.Context())
	rec, err := s.disputeService.Resolve(r.Context(), dispute.ResolveParams{
		TransactionID: id,
		DisputeID:     disputeID,
		ResolverID:    caller.UserID,
		Resolution:    req.Resolution,
		Award:         dispute.Award(req.Award),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}
