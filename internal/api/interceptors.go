package api

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"tribuna/internal/config"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	requestIDMetadataKey  = "x-request-id"
	clientKeyUnknown      = "unknown"
)

// servicePermissions maps a gRPC service to the permission its methods need.
// Services not listed (reflection) are open to any authenticated client.
var servicePermissions = map[string]string{
	"grpc.health.v1.Health": "read:health",
}

type callInfoKey struct{}

// callInfo is filled by inner interceptors and read by the logging one once the call ends.
type callInfo struct {
	client string
}

// AuthInterceptor checks API keys on gRPC calls and rate limits per client.
// With no keys configured only the rate limit applies.
type AuthInterceptor struct {
	keyHeader   string
	extraHeader string
	clients     map[string]config.APIClientKey
	limiter     *rateLimiter
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}

	return &AuthInterceptor{
		keyHeader:   headerName(cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader: headerName(cfg.Auth.HeaderExtra, apiExtraHeaderDefault),
		clients:     clients,
		limiter:     newRateLimiter(cfg.RateLimit),
	}
}

func headerName(configured, fallback string) string {
	if h := strings.ToLower(strings.TrimSpace(configured)); h != "" {
		return h
	}
	return fallback
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := a.admit(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := a.admit(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// admit authenticates the caller when keys are configured, then applies the rate limit.
// The resolved client name is recorded for the access log.
func (a *AuthInterceptor) admit(ctx context.Context, fullMethod string) error {
	md, _ := metadata.FromIncomingContext(ctx)
	key := first(md.Get(a.keyHeader))

	if len(a.clients) > 0 {
		client, err := a.authenticate(md, key)
		if err != nil {
			return err
		}
		if !client.allows(fullMethod) {
			return status.Errorf(codes.PermissionDenied, "client %q may not call %s", client.Name, fullMethod)
		}
		if ci, ok := ctx.Value(callInfoKey{}).(*callInfo); ok {
			ci.client = client.Name
		}
	}

	limitKey := key
	if limitKey == "" {
		limitKey = remoteAddr(ctx)
	}
	if !a.limiter.allow(limitKey) {
		return status.Error(codes.ResourceExhausted, "rate limit exceeded")
	}
	return nil
}

func (a *AuthInterceptor) authenticate(md metadata.MD, key string) (apiClient, error) {
	if md == nil {
		return apiClient{}, status.Error(codes.Unauthenticated, "missing metadata")
	}
	extra := first(md.Get(a.extraHeader))
	if key == "" || extra == "" {
		return apiClient{}, status.Error(codes.Unauthenticated, "missing api key headers")
	}

	client, ok := a.clients[key]
	if !ok {
		return apiClient{}, status.Error(codes.Unauthenticated, "invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return apiClient{}, status.Error(codes.Unauthenticated, "invalid extra header")
	}
	return apiClient(client), nil
}

type apiClient config.APIClientKey

// allows reports whether the client holds the permission of the method's service.
// An empty permission list grants everything.
func (c apiClient) allows(fullMethod string) bool {
	required := requiredPermission(fullMethod)
	if required == "" || len(c.Permissions) == 0 {
		return true
	}
	for _, p := range c.Permissions {
		if strings.TrimSpace(p) == required {
			return true
		}
	}
	return false
}

func requiredPermission(fullMethod string) string {
	service, _, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return ""
	}
	return servicePermissions[service]
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

// LoggingUnaryInterceptor logs every call with its request id, which is echoed back in the header.
// It runs before auth, so rejected calls are logged too.
func LoggingUnaryInterceptor(logger *zerolog.Logger) grpc.UnaryServerInterceptor {
	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := requestIDFromMetadata(ctx)
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, requestID))

		ci := &callInfo{}
		start := time.Now()
		resp, err := handler(context.WithValue(ctx, callInfoKey{}, ci), req)

		code := status.Code(err)
		ev := log.Info()
		if code != codes.OK {
			ev = log.Warn().Str("error", status.Convert(err).Message())
		}
		ev.Str("request_id", requestID).
			Str("method", info.FullMethod).
			Str("remote", remoteAddr(ctx)).
			Str("client", ci.client).
			Str("code", code.String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")

		return resp, err
	}
}

func requestIDFromMetadata(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if id := first(md.Get(requestIDMetadataKey)); id != "" {
			return id
		}
	}
	return uuid.NewString()
}
