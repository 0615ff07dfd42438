package service

import (
	"errors"

	"tribuna/internal/database"
	"tribuna/internal/domain"
)

// storeError converts persistence errors into domain errors. Domain errors pass through.
func storeError(err error, what string, id interface{}) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}

	var seats *database.SeatConflictError
	switch {
	case errors.As(err, &seats):
		return domain.SeatsTaken(seats.Seats)
	case errors.Is(err, database.ErrNotFound):
		e := domain.NotFound("%s %v not found", what, id)
		e.Err = err
		return e
	case errors.Is(err, database.ErrAlreadyVerified):
		return domain.AlreadyDone("ticket already verified")
	case errors.Is(err, database.ErrConcurrentModification), errors.Is(err, database.ErrSeatTaken):
		e := domain.Conflict("%s %v was modified concurrently", what, id)
		e.Err = err
		return e
	case errors.Is(err, database.ErrMatchNotBookable):
		e := windowClosed("match is unavailable for booking")
		e.Err = err
		return e
	default:
		return domain.Upstream(err, "%s storage failure", what)
	}
}

func requireRole(actor domain.Actor, role string) error {
	if actor.UserID == 0 {
		return domain.Unauthorized("authentication required")
	}
	if !actor.Can(role) {
		return domain.Unauthorized("role %s required", role)
	}
	return nil
}
