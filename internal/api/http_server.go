package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tribuna/internal/config"
	"tribuna/internal/metrics"
	"tribuna/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Services are the application services the HTTP API is a thin layer over.
type Services struct {
	Bookings *service.BookingService
	Matches  *service.MatchService
	Users    *service.UserService
	Settings *service.SettingsService
}

// HTTPServer exposes the booking API over JSON/HTTP.
type HTTPServer struct {
	cfg     config.APIConfig
	svc     Services
	pinger  Pinger
	loc     *time.Location
	mux     *http.ServeMux
	server  *http.Server
	auth    *HTTPAuth
	log     zerolog.Logger
	handler http.Handler
}

func NewHTTPServer(cfg config.APIConfig, svc Services, pinger Pinger, loc *time.Location, logger *zerolog.Logger) *HTTPServer {
	if loc == nil {
		loc = time.UTC
	}
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		pinger: pinger,
		loc:    loc,
		mux:    http.NewServeMux(),
		log:    zerolog.Nop(),
	}
	if logger != nil {
		srv.log = logger.With().Str("component", "http").Logger()
	}
	srv.auth = NewHTTPAuth(cfg, svc.Users, logger)
	srv.routes()

	srv.handler = srv.accessLog(srv.auth.Wrap(srv.mux))
	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)

	s.mux.HandleFunc("GET /api/v1/stadiums", s.handleListStadiums)
	s.mux.HandleFunc("GET /api/v1/matches", s.handleListMatches)
	s.mux.HandleFunc("GET /api/v1/matches/{id}", s.handleGetMatch)
	s.mux.HandleFunc("GET /api/v1/matches/{id}/seats", s.handleSeatMap)

	s.mux.HandleFunc("POST /api/v1/bookings", Required(s.handleCreateBooking))
	s.mux.HandleFunc("GET /api/v1/bookings/{id}", Required(s.handleGetBooking))
	s.mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", Required(s.handleCancelBooking))
	s.mux.HandleFunc("POST /api/v1/payments/{bookingId}", Required(s.handlePayment))

	s.mux.HandleFunc("GET /api/v1/me", Required(s.handleMe))
	s.mux.HandleFunc("GET /api/v1/me/bookings", Required(s.handleMyBookings))
	s.mux.HandleFunc("PUT /api/v1/me/contact", Required(s.handleUpdateContact))

	s.mux.HandleFunc("POST /api/v1/admin/matches", Required(s.handleCreateMatch))
	s.mux.HandleFunc("POST /api/v1/admin/matches/{id}/cancel", Required(s.handleCancelMatch))
	s.mux.HandleFunc("POST /api/v1/admin/matches/{id}/reschedule", Required(s.handleRescheduleMatch))
	s.mux.HandleFunc("POST /api/v1/admin/matches/{id}/refund", Required(s.handleRefundMatch))
	s.mux.HandleFunc("GET /api/v1/admin/matches/{id}/manifest.xlsx", Required(s.handleManifest))
	s.mux.HandleFunc("PUT /api/v1/admin/settings/booking-closure", Required(s.handleSetClosure))
	s.mux.HandleFunc("DELETE /api/v1/admin/bookings/{id}", Required(s.handleDeleteBooking))
	s.mux.HandleFunc("GET /api/v1/admin/users/active", Required(s.handleActiveUsers))
	s.mux.HandleFunc("GET /api/v1/admin/notifications/failed", Required(s.handleFailedNotifications))

	s.mux.HandleFunc("POST /api/v1/gate/verify", Required(s.handleVerifyTicket))
}

// Handler returns the full middleware chain, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

const requestIDHeader = "X-Request-ID"

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		_, pattern := s.mux.Handler(r)
		if pattern == "" {
			pattern = "unmatched"
		}

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		metrics.ObserveHTTP(pattern, strconv.Itoa(recorder.status), dur)

		ev := s.log.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, errorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
