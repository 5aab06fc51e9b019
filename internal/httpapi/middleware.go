package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/env-architect/architect/internal/auth"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/internal/ratelimit"
	"github.com/env-architect/architect/pkg/models"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
	userContextKey      contextKey = "user"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDContextKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

func loggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			if logger != nil {
				logger.Info(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", sw.status,
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", requestIDFromContext(r.Context()),
				)
			}
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// identityKey picks the rate-limit bucket key and tier for a request: the
// authenticated user ID when present, otherwise the remote address under
// the anonymous tier (spec §4.12).
func identityKey(r *http.Request) (string, ratelimit.Tier) {
	if user := userFromContext(r.Context()); user != nil {
		return "user:" + user.ID, ratelimit.TierAuthenticated
	}
	return "anon:" + r.RemoteAddr, ratelimit.TierAnonymous
}

func rateLimitMiddleware(limiter *ratelimit.RedisLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key, tier := identityKey(r)
			decision := limiter.Allow(r.Context(), key, tier)
			if !decision.Allowed {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authMiddleware accepts either a Bearer JWT or an API key, trying the
// operator-configured static map before the self-serve store-backed path
// (see DESIGN.md's Open Question decision on the two API-key schemes).
func authMiddleware(svc *auth.Service, store auth.APIKeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			if user, err := svc.ValidateJWT(token); err == nil {
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
				return
			}
			if user, err := svc.ValidateAPIKey(token); err == nil {
				next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
				return
			}
			if store != nil {
				if key, err := auth.ValidateAPIKey(r.Context(), store, token); err == nil {
					user := &models.User{ID: key.UserID}
					next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
					return
				}
			}
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		})
	}
}

func withUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func userFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
