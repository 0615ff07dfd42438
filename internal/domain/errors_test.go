package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_KindsAndOutcomes(t *testing.T) {
	minutes := 7
	tests := []struct {
		name    string
		err     *Error
		kind    Kind
		outcome Outcome
	}{
		{"NotFound", NotFound("match %d not found", 1), KindNotFound, OutcomeRetryable},
		{"Conflict", Conflict("busy"), KindConflict, OutcomeRetryable},
		{"AlreadyDone", AlreadyDone("verified"), KindConflict, OutcomeAlreadyDone},
		{"Unauthorized", Unauthorized("nope"), KindUnauthorized, OutcomeRetryable},
		{"Validation", Validation("bad seat"), KindValidation, OutcomeRetryable},
		{"Upstream", Upstream(errors.New("boom"), "store"), KindUpstreamFailure, OutcomeRetryable},
		{"ClosedSoon", BookingClosed(&minutes), KindBookingClosed, OutcomeWindowClosed},
		{"ClosedStarted", BookingClosed(nil), KindBookingClosed, OutcomeWindowClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("handler: %w", tt.err)
			assert.Equal(t, tt.kind, KindOf(wrapped))
			assert.Equal(t, tt.outcome, OutcomeOf(wrapped))
		})
	}
}

func TestBookingClosed_Messages(t *testing.T) {
	minutes := 3
	soon := BookingClosed(&minutes)
	require.NotNil(t, soon.MinutesUntilStart)
	assert.Equal(t, 3, *soon.MinutesUntilStart)
	assert.Contains(t, soon.Error(), "3 minutes")

	started := BookingClosed(nil)
	assert.Nil(t, started.MinutesUntilStart)
	assert.Contains(t, started.Error(), "already started")
}

func TestDetails(t *testing.T) {
	r := Rescheduled(42)
	require.NotNil(t, r.SuccessorMatchID)
	assert.Equal(t, int64(42), *r.SuccessorMatchID)

	s := SeatsTaken([]string{"A1", "A2"})
	assert.Equal(t, []string{"A1", "A2"}, s.Seats)

	cause := errors.New("disk full")
	u := Upstream(cause, "create booking")
	assert.ErrorIs(t, u, cause)

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
