// Package export renders gate manifests as xlsx workbooks.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"tribuna/internal/models"
	"tribuna/internal/notify"
	"tribuna/internal/seating"

	"github.com/xuri/excelize/v2"
)

const (
	bookingsSheet = "Bookings"
	seatsSheet    = "Seats"
)

var bookingHeaders = []string{"Booking", "Ticket code", "Seats", "Amount", "Status", "Verified", "Verified at"}

// FileName is the attachment name of the match manifest.
func FileName(m *models.Match) string {
	return fmt.Sprintf("manifest_match_%d_%s.xlsx", m.ID, m.Date)
}

// GateManifest writes the paid bookings of a match: one sheet per booking and one per seat,
// the second sorted in grid order for the stewards.
func GateManifest(w io.Writer, m *models.Match, bookings []*models.Booking, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(bookingsSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	// Заголовок с матчем
	_ = f.SetCellValue(bookingsSheet, "A1", fmt.Sprintf("%s, %s %s", m.Title(), m.Date, m.Time))
	lastCol, _ := excelize.ColumnNumberToName(len(bookingHeaders))
	_ = f.MergeCell(bookingsSheet, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(bookingsSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range bookingHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(bookingsSheet, cell, h)
		_ = f.SetCellStyle(bookingsSheet, cell, cell, headerStyle)
	}

	seatOwner := make(map[string]*models.Booking)
	for i, b := range bookings {
		row := i + 3
		verified := "no"
		verifiedAt := ""
		if b.IsTicketVerified {
			verified = "yes"
			if b.VerifiedAt != nil {
				verifiedAt = b.VerifiedAt.In(loc).Format("2006-01-02 15:04")
			}
		}
		values := []interface{}{
			b.ID, b.TicketCode, strings.Join(b.Seats, " "), notify.FormatCents(b.TotalAmountCents),
			b.Status, verified, verifiedAt,
		}
		if err := f.SetSheetRow(bookingsSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("error writing booking %d: %w", b.ID, err)
		}
		for _, s := range b.Seats {
			seatOwner[s] = b
		}
	}
	_ = f.SetColWidth(bookingsSheet, "A", "A", 10)
	_ = f.SetColWidth(bookingsSheet, "B", "B", 40)
	_ = f.SetColWidth(bookingsSheet, "C", "G", 16)

	if _, err := f.NewSheet(seatsSheet); err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	header := []interface{}{"Seat", "Tier", "Booking", "Ticket code"}
	_ = f.SetSheetRow(seatsSheet, "A1", &header)
	_ = f.SetCellStyle(seatsSheet, "A1", "D1", headerStyle)

	row := 2
	for _, id := range seating.Sorted(seating.SetOf(seatIDs(seatOwner))) {
		b := seatOwner[id]
		tier, _ := seating.TierOf(id)
		values := []interface{}{id, string(tier), b.ID, b.TicketCode}
		if err := f.SetSheetRow(seatsSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return fmt.Errorf("error writing seat %s: %w", id, err)
		}
		row++
	}
	_ = f.SetColWidth(seatsSheet, "D", "D", 40)

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func seatIDs(owners map[string]*models.Booking) []string {
	ids := make([]string, 0, len(owners))
	for id := range owners {
		ids = append(ids, id)
	}
	return ids
}
