// Package closure decides whether a match still accepts new bookings.
package closure

import (
	"time"

	"tribuna/internal/models"
)

type State string

const (
	Open        State = "OPEN"
	ClosingSoon State = "CLOSING_SOON"
	Closed      State = "CLOSED"
)

type Result struct {
	State               State     `json:"state"`
	StartsAt            time.Time `json:"starts_at"`
	ClosesAt            time.Time `json:"closes_at"`
	MinutesUntilStart   int       `json:"minutes_until_start"`
	MinutesUntilClosure int       `json:"minutes_until_closure"`
}

// BookingClosed is true for both CLOSING_SOON and CLOSED.
func (r Result) BookingClosed() bool {
	return r.State != Open
}

func (r Result) Started() bool {
	return r.State == Closed
}

// Compute applies the lead window to a start instant. Remaining minutes are rounded up.
func Compute(startsAt, now time.Time, leadMinutes int) Result {
	if leadMinutes < 0 {
		leadMinutes = 0
	}
	closesAt := startsAt.Add(-time.Duration(leadMinutes) * time.Minute)
	r := Result{StartsAt: startsAt, ClosesAt: closesAt}

	switch {
	case !now.Before(startsAt):
		r.State = Closed
	case !now.Before(closesAt):
		r.State = ClosingSoon
		r.MinutesUntilStart = ceilMinutes(startsAt.Sub(now))
	default:
		r.State = Open
		r.MinutesUntilStart = ceilMinutes(startsAt.Sub(now))
		r.MinutesUntilClosure = ceilMinutes(closesAt.Sub(now))
	}
	return r
}

// ForMatch resolves the match schedule in loc and computes its closure state.
func ForMatch(m *models.Match, loc *time.Location, now time.Time, leadMinutes int) (Result, error) {
	start, err := m.StartsAt(loc)
	if err != nil {
		return Result{}, err
	}
	return Compute(start, now, leadMinutes), nil
}

func ceilMinutes(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return m
}
