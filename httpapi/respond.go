package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"escrowflow/auth"
	"escrowflow/escrow"
)

type errorEnvelope struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain error kinds onto HTTP status codes. Unknown errors
// surface as 500 with a generic message so internals never leak.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"

	switch {
	case errors.Is(err, escrow.ErrValidation), errors.Is(err, auth.ErrWeakPassword):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, escrow.ErrInvalidState), errors.Is(err, escrow.ErrInvariant), errors.Is(err, auth.ErrDuplicateEmail):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, auth.ErrInvalidCredentials):
		status, msg = http.StatusUnauthorized, err.Error()
	}

	if status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorEnvelope{Error: msg})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed request body", escrow.ErrValidation)
	}
	return nil
}
