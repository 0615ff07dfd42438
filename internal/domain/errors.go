package domain

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindBookingClosed   Kind = "booking_closed"
	KindUnauthorized    Kind = "unauthorized"
	KindValidation      Kind = "validation_error"
	KindUpstreamFailure Kind = "upstream_failure"
)

// Outcome tells the caller what happened to the requested change.
type Outcome string

const (
	// OutcomeRetryable means nothing was changed.
	OutcomeRetryable Outcome = "retryable"
	// OutcomeAlreadyDone means the change had already been applied earlier.
	OutcomeAlreadyDone Outcome = "already_done"
	// OutcomeWindowClosed means the change can no longer be applied.
	OutcomeWindowClosed Outcome = "window_closed"
)

type Error struct {
	Kind              Kind
	Outcome           Outcome
	Message           string
	MinutesUntilStart *int
	SuccessorMatchID  *int64
	Seats             []string
	Err               error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...)}
}

func AlreadyDone(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Outcome: OutcomeAlreadyDone, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: KindUnauthorized, Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...)}
}

func Upstream(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUpstreamFailure, Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...), Err: err}
}

// BookingClosed builds the closure rejection. A nil minutes value means the match already started.
func BookingClosed(minutesUntilStart *int) *Error {
	e := &Error{Kind: KindBookingClosed, Outcome: OutcomeWindowClosed, MinutesUntilStart: minutesUntilStart}
	if minutesUntilStart == nil {
		e.Message = "match already started"
	} else {
		e.Message = fmt.Sprintf("booking is closed, match starts in %d minutes", *minutesUntilStart)
	}
	return e
}

// SeatsTaken is the conflict returned when another booking already holds any of the seats.
func SeatsTaken(seats []string) *Error {
	return &Error{
		Kind:    KindConflict,
		Outcome: OutcomeRetryable,
		Message: fmt.Sprintf("seats already booked: %v", seats),
		Seats:   seats,
	}
}

// Rescheduled is the conflict returned for a cancelled match that has a successor.
func Rescheduled(successorID int64) *Error {
	return &Error{
		Kind:             KindConflict,
		Outcome:          OutcomeRetryable,
		Message:          fmt.Sprintf("match was rescheduled, book match %d instead", successorID),
		SuccessorMatchID: &successorID,
	}
}

// KindOf returns the kind of a domain error, or an empty Kind for anything else.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

func OutcomeOf(err error) Outcome {
	var de *Error
	if errors.As(err, &de) {
		return de.Outcome
	}
	return ""
}
