package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloudx-io/bidchain/core"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encoding response failed")
	}
}

// writeError maps domain errors onto HTTP statuses. Bid rejections are
// 422 so clients can tell a refused bid from a malformed request.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var verr *core.ValidationError
	var terr *core.InvalidTransitionError
	var eerr *core.ExternalServiceError
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &terr):
		status = http.StatusConflict
	case core.IsBidRejection(err):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &eerr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
