// Package httpapi wires the registry's REST surface (spec §6): package
// and version lookups, publish, search, scan status, device-flow/API-key
// auth, fronted by a chi router with the middleware stack spec §6
// names (request ID, structured logging, auth, rate limiting).
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/auth"
	"github.com/env-architect/architect/internal/ingestion"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/internal/ratelimit"
	"github.com/env-architect/architect/internal/registry"
)

// Deps are the services the router dispatches to.
type Deps struct {
	Registry    *registry.Repository
	Ingestion   *ingestion.Service
	AuthService *auth.Service
	APIKeys     auth.APIKeyStore
	DeviceFlow  *auth.DeviceFlow
	Limiter     *ratelimit.RedisLimiter
	Logger      *observability.Logger
	TUF         *TUFCache
	Audit       *audit.Recorder
}

// NewRouter builds the full HTTP route tree over deps.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(deps.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Signature"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	h := &handlers{deps: deps}

	r.Get("/healthz", h.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Use(rateLimitMiddleware(deps.Limiter))

		r.Post("/oauth/device/code", h.startDeviceAuthorization)
		r.Post("/oauth/token", h.pollOrRefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(deps.AuthService, deps.APIKeys))

			r.Post("/api-keys", h.createAPIKey)
			r.Post("/publish", h.publish)
			r.Get("/audit", h.getAuditReport)
		})

		r.Get("/packages/{name}", h.getPackage)
		r.Get("/packages/{name}/versions", h.listVersions)
		r.Get("/packages/{name}/versions/{version}", h.getVersion)
		r.Get("/search", h.search)
		r.Get("/scan/{versionID}", h.getScanResult)

		r.Get("/tuf/targets.json", h.getTUFTargets)
		r.Get("/tuf/snapshot.json", h.getTUFSnapshot)
		r.Get("/tuf/timestamp.json", h.getTUFTimestamp)
	})

	return r
}

// requestTimeout bounds every request's total processing time; individual
// handlers derive their own shorter deadlines where needed.
const requestTimeout = 30 * time.Second
