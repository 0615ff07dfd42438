package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"tribuna/internal/domain"
	"tribuna/internal/export"
	"tribuna/internal/models"
	"tribuna/internal/service"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.PingContext(r.Context()); err != nil {
			s.log.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleListStadiums(w http.ResponseWriter, r *http.Request) {
	stadiums, err := s.svc.Matches.ListStadiums(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stadiums": stadiums})
}

func (s *HTTPServer) handleListMatches(w http.ResponseWriter, r *http.Request) {
	var stadiumID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("stadium_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			s.writeServiceError(w, r, domain.Validation("invalid stadium_id %q", raw))
			return
		}
		stadiumID = id
	}

	matches, err := s.svc.Matches.ListMatches(r.Context(), stadiumID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

func (s *HTTPServer) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	m, err := s.svc.Matches.GetMatch(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *HTTPServer) handleSeatMap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	seats, err := s.svc.Matches.SeatMap(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, seats)
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	booking, err := s.svc.Bookings.CreateBooking(r.Context(), ActorFromContext(r.Context()), service.CreateBookingInput{
		MatchID:           req.MatchID,
		Seats:             req.Seats,
		ClaimedTotalCents: req.TotalAmountCents,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.svc.Bookings.GetBooking(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleMyBookings(w http.ResponseWriter, r *http.Request) {
	bookings, err := s.svc.Bookings.ListUserBookings(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, err := s.svc.Bookings.CancelBooking(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// handlePayment is the payment provider callback: status "paid" confirms, "failed" releases the seats.
func (s *HTTPServer) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "bookingId")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req paymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	actor := ActorFromContext(r.Context())
	var booking *models.Booking
	if req.Status == models.PaymentPaid {
		booking, err = s.svc.Bookings.ConfirmPayment(r.Context(), actor, id, service.PaymentInput{
			Method:      req.Method,
			Reference:   req.Reference,
			AmountCents: req.AmountCents,
		})
	} else {
		booking, err = s.svc.Bookings.FailPayment(r.Context(), actor, id, req.Reason)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.GetUserByID(r.Context(), ActorFromContext(r.Context()).UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	user, err := s.svc.Users.UpdateContact(r.Context(), ActorFromContext(r.Context()), service.ContactInput{
		Name:           req.Name,
		Email:          req.Email,
		TelegramChatID: req.TelegramChatID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *HTTPServer) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req createMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	m, err := s.svc.Matches.CreateMatch(r.Context(), ActorFromContext(r.Context()), service.CreateMatchInput{
		StadiumID:         req.StadiumID,
		HomeTeam:          req.HomeTeam,
		AwayTeam:          req.AwayTeam,
		Description:       req.Description,
		Date:              req.Date,
		Time:              req.Time,
		DurationMinutes:   req.DurationMinutes,
		VIPPriceCents:     req.VIPPriceCents,
		RegularPriceCents: req.RegularPriceCents,
		IsFinal:           req.IsFinal,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *HTTPServer) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req cancelMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Matches.CancelMatch(r.Context(), ActorFromContext(r.Context()), id, req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleRescheduleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var req rescheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Matches.RescheduleMatch(r.Context(), ActorFromContext(r.Context()), id, service.RescheduleInput{
		Date:      req.Date,
		Time:      req.Time,
		StadiumID: req.StadiumID,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleRefundMatch(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Matches.RefundMatch(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	m, bookings, err := s.svc.Matches.ManifestBookings(r.Context(), ActorFromContext(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	// файл собирается целиком, чтобы ошибка не оборвала уже начатый ответ
	var buf bytes.Buffer
	if err := export.GateManifest(&buf, m, bookings, s.loc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(m)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleSetClosure(w http.ResponseWriter, r *http.Request) {
	var req closureSettingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.svc.Settings.SetClosureLeadMinutes(r.Context(), ActorFromContext(r.Context()), *req.Minutes); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"minutes": s.svc.Settings.ClosureLeadMinutes(r.Context())})
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.svc.Bookings.DeleteBooking(r.Context(), ActorFromContext(r.Context()), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

const defaultActiveDays = 30

func (s *HTTPServer) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	days := defaultActiveDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeServiceError(w, r, domain.Validation("days must be a number"))
			return
		}
		days = n
	}
	users, err := s.svc.Users.ListActiveUsers(r.Context(), ActorFromContext(r.Context()), days)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *HTTPServer) handleFailedNotifications(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.svc.Users.FailedNotifications(r.Context(), ActorFromContext(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []models.NotificationTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

type verifyResponse struct {
	Booking *models.Booking `json:"booking"`
	Match   *models.Match   `json:"match"`
	Seats   []string        `json:"seats"`
}

func (s *HTTPServer) handleVerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	booking, m, err := s.svc.Bookings.VerifyTicket(r.Context(), ActorFromContext(r.Context()), req.TicketCode)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{Booking: booking, Match: m, Seats: booking.Seats})
}
