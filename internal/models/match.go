package models

import (
	"fmt"
	"time"
)

type Match struct {
	ID                 int64      `json:"id"`
	StadiumID          int64      `json:"stadium_id"`
	HomeTeam           string     `json:"home_team"`
	AwayTeam           string     `json:"away_team"`
	Description        string     `json:"description"`
	Date               string     `json:"date"` // YYYY-MM-DD
	Time               string     `json:"time"` // HH:MM
	DurationMinutes    int        `json:"duration_minutes"`
	VIPPriceCents      int64      `json:"vip_price_cents"`
	RegularPriceCents  int64      `json:"regular_price_cents"`
	IsFinal            bool       `json:"is_final"`
	Status             string     `json:"status"` // upcoming, ongoing, completed, cancelled
	RescheduledFrom    *int64     `json:"rescheduled_from,omitempty"`
	RescheduledTo      *int64     `json:"rescheduled_to,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	IsRefunded         bool       `json:"is_refunded"`
	RefundedAt         *time.Time `json:"refunded_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// StartsAt combines the stored date and time-of-day into one instant in loc.
func (m *Match) StartsAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation(DateLayout+" "+TimeLayout, m.Date+" "+m.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid schedule %q %q for match %d: %w", m.Date, m.Time, m.ID, err)
	}
	return start, nil
}

// EndsAt is start + duration + grace. A zero duration falls back to the default.
func (m *Match) EndsAt(loc *time.Location, grace time.Duration) (time.Time, error) {
	start, err := m.StartsAt(loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(m.Duration()).Add(grace), nil
}

func (m *Match) Duration() time.Duration {
	minutes := m.DurationMinutes
	if minutes <= 0 {
		minutes = DefaultMatchDurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func (m *Match) HasSuccessor() bool {
	return m.RescheduledTo != nil && *m.RescheduledTo > 0
}

func (m *Match) Title() string {
	return m.HomeTeam + " vs " + m.AwayTeam
}
