package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tribuna/internal/config"
	"tribuna/internal/domain"
	"tribuna/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Claims are the user claims carried by HTTP bearer tokens. The subject is the user id.
type Claims struct {
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserToucher records that an authenticated user was seen.
type UserToucher interface {
	TouchUser(ctx context.Context, actor domain.Actor, name, email string) error
}

// HTTPAuth resolves bearer tokens into actors and applies per-client rate limits.
type HTTPAuth struct {
	secret  []byte
	issuer  string
	users   UserToucher
	limiter *rateLimiter
	log     zerolog.Logger
}

func NewHTTPAuth(cfg config.APIConfig, users UserToucher, logger *zerolog.Logger) *HTTPAuth {
	a := &HTTPAuth{
		secret:  []byte(cfg.Auth.JWTSecret),
		issuer:  cfg.Auth.JWTIssuer,
		users:   users,
		limiter: newRateLimiter(cfg.RateLimit),
		log:     zerolog.Nop(),
	}
	if logger != nil {
		a.log = logger.With().Str("component", "http-auth").Logger()
	}
	return a
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

type actorKey struct{}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the authenticated caller, or a zero Actor for anonymous requests.
func ActorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}

// Wrap authenticates requests that carry a token and rate-limits every request.
// Requests without a token continue anonymously; routes that need a user use Required.
func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, claims, err := a.authenticate(r)
		switch {
		case errors.Is(err, errMissingToken):
		case err != nil:
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected token")
			writeError(w, http.StatusUnauthorized, errInvalidToken.Error())
			return
		}

		if !a.limiter.allow(a.clientKey(r, actor)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		if actor.UserID != 0 {
			if a.users != nil {
				if err := a.users.TouchUser(r.Context(), actor, claims.Name, claims.Email); err != nil {
					// учёт активности не должен ломать запрос
					a.log.Warn().Err(err).Int64("user_id", actor.UserID).Msg("touch user failed")
				}
			}
			r = r.WithContext(withActor(r.Context(), actor))
		}

		next.ServeHTTP(w, r)
	})
}

// Required rejects anonymous requests with 401.
func Required(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ActorFromContext(r.Context()).UserID == 0 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r)
	}
}

func (a *HTTPAuth) authenticate(r *http.Request) (domain.Actor, *Claims, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return domain.Actor{}, nil, errMissingToken
	}
	scheme, raw, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
		return domain.Actor{}, nil, errInvalidToken
	}
	return a.ParseToken(strings.TrimSpace(raw))
}

// ParseToken verifies an HS256 token and maps it to an actor.
func (a *HTTPAuth) ParseToken(raw string) (domain.Actor, *Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return domain.Actor{}, nil, fmt.Errorf("%w: %w", errInvalidToken, err)
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return domain.Actor{}, nil, fmt.Errorf("%w: subject %q is not a user id", errInvalidToken, claims.Subject)
	}

	role := claims.Role
	switch role {
	case "":
		role = models.RoleCustomer
	case models.RoleCustomer, models.RoleAdmin, models.RoleGate, models.RolePayments:
	default:
		return domain.Actor{}, nil, fmt.Errorf("%w: unknown role %q", errInvalidToken, role)
	}

	return domain.Actor{UserID: id, Role: role}, claims, nil
}

// IssueToken signs a token for the user. Used by operators and tests to mint credentials.
func (a *HTTPAuth) IssueToken(userID int64, role, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *HTTPAuth) clientKey(r *http.Request, actor domain.Actor) string {
	if actor.UserID != 0 {
		return "user:" + strconv.FormatInt(actor.UserID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}
