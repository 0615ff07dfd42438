package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"tribuna/internal/config"
	"tribuna/internal/database"
	"tribuna/internal/events"
	"tribuna/internal/models"
	"tribuna/internal/repository"
	"tribuna/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-0123456789"

type apiEnv struct {
	db      *database.DB
	srv     *HTTPServer
	ts      *httptest.Server
	stadium *models.Stadium
	tokens  map[string]string
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		HTTP: config.APIHTTPConfig{Enabled: true, Port: 0},
		Auth: config.APIAuthConfig{JWTSecret: testSecret, JWTIssuer: "tribuna-test"},
		RateLimit: config.APIRateLimitConfig{
			RPS:   1000,
			Burst: 1000,
		},
	}
}

func newAPIEnv(t *testing.T, cfg config.APIConfig) *apiEnv {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	stadium := &models.Stadium{Name: "Benjamin Mkapa", City: "Dar es Salaam", Capacity: 150}
	require.NoError(t, db.UpsertStadium(context.Background(), stadium))

	bus := events.NewEventBus()
	settings := service.NewSettingsService(db, bus, models.DefaultClosureLeadMinutes, &logger)
	deps := service.Deps{
		Store:    db,
		Cache:    repository.NewMemorySeatCache(),
		Events:   bus,
		Settings: settings,
		Logger:   &logger,
	}
	opts := service.Options{
		Location:       time.UTC,
		PendingTimeout: 15 * time.Minute,
		UserRateLimit:  100,
		UserRateWindow: time.Minute,
	}
	svc := Services{
		Bookings: service.NewBookingService(deps, opts),
		Matches:  service.NewMatchService(deps, opts),
		Users:    service.NewUserService(db, &logger),
		Settings: settings,
	}

	srv := NewHTTPServer(cfg, svc, db, time.UTC, &logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	env := &apiEnv{db: db, srv: srv, ts: ts, stadium: stadium, tokens: map[string]string{}}
	for _, u := range []struct {
		id   int64
		role string
	}{
		{1, models.RoleCustomer},
		{2, models.RoleCustomer},
		{90, models.RoleAdmin},
		{91, models.RoleGate},
		{92, models.RolePayments},
	} {
		tok, err := srv.auth.IssueToken(u.id, u.role, "user", time.Hour)
		require.NoError(t, err)
		key := u.role
		if u.id == 2 {
			key = "other"
		}
		env.tokens[key] = tok
	}
	return env
}

type apiResponse struct {
	status int
	header http.Header
	body   []byte
}

func (r apiResponse) decode(t *testing.T, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, dst), "body: %s", r.body)
}

func (r apiResponse) errBody(t *testing.T) errorResponse {
	t.Helper()
	var e errorResponse
	r.decode(t, &e)
	return e
}

// do sends a request as the given role ("" for anonymous).
func (e *apiEnv) do(t *testing.T, method, path, role string, body any) apiResponse {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[role])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return apiResponse{status: resp.StatusCode, header: resp.Header, body: raw}
}

// createMatch schedules a match through the admin API, starting `in` from now.
func (e *apiEnv) createMatch(t *testing.T, in time.Duration) *models.Match {
	t.Helper()
	start := time.Now().UTC().Add(in)
	resp := e.do(t, http.MethodPost, "/api/v1/admin/matches", models.RoleAdmin, map[string]any{
		"stadium_id":          e.stadium.ID,
		"home_team":           "Simba",
		"away_team":           "Yanga",
		"date":                start.Format(models.DateLayout),
		"time":                start.Format(models.TimeLayout),
		"duration_minutes":    90,
		"vip_price_cents":     2000,
		"regular_price_cents": 500,
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)
	var m models.Match
	resp.decode(t, &m)
	return &m
}

func (e *apiEnv) book(t *testing.T, role string, matchID int64, total int64, seats ...string) *models.Booking {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/bookings", role, map[string]any{
		"match_id":           matchID,
		"seats":              seats,
		"total_amount_cents": total,
	})
	require.Equal(t, http.StatusCreated, resp.status, "body: %s", resp.body)
	var b models.Booking
	resp.decode(t, &b)
	return &b
}

func (e *apiEnv) pay(t *testing.T, b *models.Booking) *models.Booking {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/v1/payments/"+itoa(b.ID), models.RolePayments, map[string]any{
		"status":       "paid",
		"method":       "mpesa",
		"reference":    "MP-1",
		"amount_cents": b.TotalAmountCents,
	})
	require.Equal(t, http.StatusOK, resp.status, "body: %s", resp.body)
	var paid models.Booking
	resp.decode(t, &paid)
	return &paid
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
