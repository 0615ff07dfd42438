package api

import (
	"errors"
	"net/http"

	"tribuna/internal/domain"
)

type errorResponse struct {
	Error             string   `json:"error"`
	Kind              string   `json:"kind,omitempty"`
	Outcome           string   `json:"outcome,omitempty"`
	Seats             []string `json:"seats,omitempty"`
	MinutesUntilStart *int     `json:"minutes_until_start,omitempty"`
	SuccessorMatchID  *int64   `json:"successor_match_id,omitempty"`
}

func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict, domain.KindBookingClosed:
		return http.StatusConflict
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service error. Anything that is not a domain error is a 500
// and its text is not sent to the client.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	code := statusForKind(de.Kind)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("upstream failure")
	}

	writeJSON(w, code, errorResponse{
		Error:             de.Message,
		Kind:              string(de.Kind),
		Outcome:           string(de.Outcome),
		Seats:             de.Seats,
		MinutesUntilStart: de.MinutesUntilStart,
		SuccessorMatchID:  de.SuccessorMatchID,
	})
}
