// Package seating holds the fixed stadium grid and the tier pricing derived from it.
package seating

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tribuna/internal/models"
)

type Tier string

const (
	TierVIP     Tier = "vip"
	TierRegular Tier = "regular"
)

const (
	Rows    = "ABCDEFGHIJ"
	Columns = 15
	// первые два ряда VIP
	vipRows = 2
)

var (
	ErrInvalidSeat   = errors.New("invalid seat")
	ErrDuplicateSeat = errors.New("duplicate seat")
	ErrNoSeats       = errors.New("no seats requested")
)

type Seat struct {
	ID     string `json:"id"`
	Row    string `json:"row"`
	Column int    `json:"column"`
	Tier   Tier   `json:"tier"`
}

type Grid struct {
	Seats   []Seat
	VIP     []string
	Regular []string
}

// GenerateGrid returns all seats in row-major order, A1 first and J15 last.
func GenerateGrid() Grid {
	g := Grid{Seats: make([]Seat, 0, len(Rows)*Columns)}
	for r := 0; r < len(Rows); r++ {
		for c := 1; c <= Columns; c++ {
			s := newSeat(r, c)
			g.Seats = append(g.Seats, s)
			if s.Tier == TierVIP {
				g.VIP = append(g.VIP, s.ID)
			} else {
				g.Regular = append(g.Regular, s.ID)
			}
		}
	}
	return g
}

func newSeat(rowIdx, col int) Seat {
	tier := TierRegular
	if rowIdx < vipRows {
		tier = TierVIP
	}
	row := string(Rows[rowIdx])
	return Seat{ID: row + strconv.Itoa(col), Row: row, Column: col, Tier: tier}
}

// ParseSeat accepts identifiers like "A1" or " c12 " and returns the canonical seat.
func ParseSeat(id string) (Seat, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) < 2 {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeat, id)
	}
	rowIdx := strings.IndexByte(Rows, id[0])
	if rowIdx < 0 {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeat, id)
	}
	colPart := id[1:]
	if colPart[0] == '0' {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeat, id)
	}
	col, err := strconv.Atoi(colPart)
	if err != nil || col < 1 || col > Columns {
		return Seat{}, fmt.Errorf("%w: %q", ErrInvalidSeat, id)
	}
	return newSeat(rowIdx, col), nil
}

func TierOf(id string) (Tier, error) {
	s, err := ParseSeat(id)
	if err != nil {
		return "", err
	}
	return s.Tier, nil
}

// PriceFor returns the match price of the seat's tier.
func PriceFor(id string, m *models.Match) (int64, error) {
	tier, err := TierOf(id)
	if err != nil {
		return 0, err
	}
	return tierPrice(tier, m), nil
}

func tierPrice(t Tier, m *models.Match) int64 {
	if t == TierVIP {
		return m.VIPPriceCents
	}
	return m.RegularPriceCents
}

// Normalize validates a requested seat list and returns canonical ids in request order.
func Normalize(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, ErrNoSeats
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		s, err := ParseSeat(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSeat, s.ID)
		}
		seen[s.ID] = struct{}{}
		out = append(out, s.ID)
	}
	return out, nil
}

// TotalFor sums tier prices for the requested seats.
func TotalFor(ids []string, m *models.Match) (int64, error) {
	seats, err := Normalize(ids)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range seats {
		p, _ := PriceFor(id, m)
		total += p
	}
	return total, nil
}

// IsBooked reports whether any pending or paid booking holds the seat.
func IsBooked(id string, bookings []*models.Booking) bool {
	s, err := ParseSeat(id)
	if err != nil {
		return false
	}
	_, ok := BookedSet(bookings)[s.ID]
	return ok
}

// BookedSet is the union of seats of bookings whose payment is pending or paid.
func BookedSet(bookings []*models.Booking) map[string]struct{} {
	set := make(map[string]struct{})
	for _, b := range bookings {
		if !b.HoldsSeats() {
			continue
		}
		for _, id := range b.Seats {
			set[strings.ToUpper(id)] = struct{}{}
		}
	}
	return set
}

func SetOf(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[strings.ToUpper(id)] = struct{}{}
	}
	return set
}

// Sorted returns seat ids in grid order.
func Sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return gridIndex(out[i]) < gridIndex(out[j])
	})
	return out
}

func gridIndex(id string) int {
	s, err := ParseSeat(id)
	if err != nil {
		return len(Rows) * Columns
	}
	return strings.IndexByte(Rows, s.Row[0])*Columns + s.Column - 1
}

type Occupancy struct {
	VIPTotal         int `json:"vip_total"`
	VIPBooked        int `json:"vip_booked"`
	RegularTotal     int `json:"regular_total"`
	RegularBooked    int `json:"regular_booked"`
	Available        int `json:"available"`
	BookedPercentage int `json:"booked_percentage"`
}

func OccupancyOf(booked map[string]struct{}) Occupancy {
	g := GenerateGrid()
	o := Occupancy{VIPTotal: len(g.VIP), RegularTotal: len(g.Regular)}
	for _, s := range g.Seats {
		if _, ok := booked[s.ID]; !ok {
			continue
		}
		if s.Tier == TierVIP {
			o.VIPBooked++
		} else {
			o.RegularBooked++
		}
	}
	total := o.VIPTotal + o.RegularTotal
	taken := o.VIPBooked + o.RegularBooked
	o.Available = total - taken
	o.BookedPercentage = taken * 100 / total
	return o
}

type SeatStatus struct {
	Seat
	PriceCents int64 `json:"price_cents"`
	Booked     bool  `json:"booked"`
}

// Map annotates every grid seat with its price and booked flag.
func Map(m *models.Match, booked map[string]struct{}) []SeatStatus {
	g := GenerateGrid()
	out := make([]SeatStatus, 0, len(g.Seats))
	for _, s := range g.Seats {
		_, taken := booked[s.ID]
		out = append(out, SeatStatus{Seat: s, PriceCents: tierPrice(s.Tier, m), Booked: taken})
	}
	return out
}
