package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	// IdentityContextKey stores the caller's identity (API key or client
	// address for anonymous callers) used to key admission control.
	IdentityContextKey contextKey = "identity"
	// PlanContextKey stores the caller's plan tier. API-key validation and
	// plan lookup are an external identity service's responsibility; this
	// middleware only reads what that service has already attached to the
	// request (a header) or falls back to "free".
	PlanContextKey contextKey = "plan"
)

// IdentityMiddleware extracts the caller's identity and plan tier from the
// request so the admission controller (C7) can key its limiter on them. It
// does not authenticate: key validation and plan resolution happen
// upstream, outside this gateway.
type IdentityMiddleware struct {
	logger     zerolog.Logger
	headerKey  string
	planHeader string
}

// NewIdentityMiddleware creates the identity-context middleware. headerKey
// is the header carrying the caller's API key (or bearer token); the
// resolved plan tier is read from the X-Plan-Tier header.
func NewIdentityMiddleware(logger zerolog.Logger, headerKey string) *IdentityMiddleware {
	if headerKey == "" {
		headerKey = "Authorization"
	}
	return &IdentityMiddleware{logger: logger, headerKey: headerKey, planHeader: "X-Plan-Tier"}
}

// Handler attaches identity and plan to the request context.
func (im *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := im.extractIdentity(r)
		plan := r.Header.Get(im.planHeader)
		if plan == "" {
			plan = "free"
		}

		ctx := context.WithValue(r.Context(), IdentityContextKey, identity)
		ctx = context.WithValue(ctx, PlanContextKey, plan)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (im *IdentityMiddleware) extractIdentity(r *http.Request) string {
	auth := r.Header.Get(im.headerKey)
	if auth == "" {
		return anonymousIdentity(r)
	}
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return auth[7:]
	}
	return auth
}

// anonymousIdentity keys unauthenticated callers by remote address so
// admission control still applies.
func anonymousIdentity(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return "anon:" + strings.Split(ip, ",")[0]
	}
	return "anon:" + r.RemoteAddr
}

// Identity extracts the caller's identity from the request context.
func Identity(ctx context.Context) string {
	if v, ok := ctx.Value(IdentityContextKey).(string); ok {
		return v
	}
	return ""
}

// Plan extracts the caller's plan tier from the request context.
func Plan(ctx context.Context) string {
	if v, ok := ctx.Value(PlanContextKey).(string); ok {
		return v
	}
	return "free"
}
