package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/auth"
	"github.com/env-architect/architect/internal/ingestion"
	"github.com/env-architect/architect/internal/metadataservice"
	"github.com/env-architect/architect/internal/registry"
	"github.com/env-architect/architect/pkg/models"
)

type handlers struct {
	deps Deps
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startDeviceAuthorization implements POST /v1/oauth/device/code.
func (h *handlers) startDeviceAuthorization(w http.ResponseWriter, r *http.Request) {
	if h.deps.DeviceFlow == nil {
		writeError(w, http.StatusServiceUnavailable, "device flow not configured")
		return
	}
	d, err := h.deps.DeviceFlow.StartDeviceAuthorization(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_code":      d.DeviceCode,
		"user_code":        d.UserCode,
		"verification_uri": d.VerificationURI,
		"interval":         d.Interval,
		"expires_in":       int(d.ExpiresAt.Sub(d.CreatedAt).Seconds()),
	})
}

// pollOrRefreshToken implements POST /v1/oauth/token: the grant_type form
// field selects between polling a pending device code and refreshing an
// access token from a refresh token, per RFC 8628 and spec §4.13.
func (h *handlers) pollOrRefreshToken(w http.ResponseWriter, r *http.Request) {
	if h.deps.DeviceFlow == nil {
		writeError(w, http.StatusServiceUnavailable, "device flow not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}

	grantType := r.FormValue("grant_type")
	switch grantType {
	case "refresh_token":
		resp, err := h.deps.DeviceFlow.RefreshAccessToken(r.Context(), r.FormValue("refresh_token"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		resp, err := h.deps.DeviceFlow.PollToken(r.Context(), r.FormValue("device_code"))
		switch {
		case errors.Is(err, auth.ErrAuthorizationPending):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "authorization_pending"})
		case errors.Is(err, auth.ErrDeviceCodeExpired):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expired_token"})
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

// createAPIKey implements POST /v1/api-keys: mints a new store-backed key
// for the authenticated caller (spec §4.13).
func (h *handlers) createAPIKey(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.deps.APIKeys == nil {
		writeError(w, http.StatusServiceUnavailable, "api key store not configured")
		return
	}

	var body struct {
		Environment string `json:"environment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if body.Environment == "" {
		body.Environment = "live"
	}

	plaintext, record, err := auth.GenerateAPIKey(user.ID, body.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.deps.APIKeys.CreateAPIKey(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":    plaintext,
		"prefix": record.Prefix,
	})
}

// publish implements POST /v1/publish, decoding the multipart payload
// spec §4.9 describes and handing it to internal/ingestion.Service.
func (h *handlers) publish(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	if h.deps.Ingestion == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not configured")
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}

	artifact, _, err := r.FormFile("artifact")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing artifact file")
		return
	}
	defer artifact.Close()
	artifactBytes, err := io.ReadAll(artifact)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read artifact")
		return
	}

	var sbomBytes []byte
	if sbom, _, err := r.FormFile("sbom"); err == nil {
		defer sbom.Close()
		sbomBytes, _ = io.ReadAll(sbom)
	}

	signature, err := base64.StdEncoding.DecodeString(r.Header.Get("X-Signature"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed X-Signature header")
		return
	}

	req := ingestion.PublishRequest{
		UploaderID:    user.ID,
		Name:          r.FormValue("name"),
		Description:   r.FormValue("description"),
		Ecosystem:     r.FormValue("ecosystem"),
		Purl:          r.FormValue("purl"),
		Version:       r.FormValue("version"),
		ArtifactBytes: artifactBytes,
		SBOMBytes:     sbomBytes,
		Signature:     signature,
	}

	result, err := h.deps.Ingestion.Publish(r.Context(), req)
	switch {
	case errors.Is(err, ingestion.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, ingestion.ErrInvalidSignature):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ingestion.ErrVersionExists):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusCreated, result)
	}
}

// getPackage implements GET /v1/packages/{name}.
func (h *handlers) getPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.Registry.GetPackageByName(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

// listVersions implements GET /v1/packages/{name}/versions.
func (h *handlers) listVersions(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.Registry.GetPackageByName(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	versions, err := h.deps.Registry.ListVersions(r.Context(), pkg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// getVersion implements GET /v1/packages/{name}/versions/{version}.
func (h *handlers) getVersion(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.deps.Registry.GetPackageByName(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, registry.ErrNotFound) {
		writeError(w, http.StatusNotFound, "package not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	versions, err := h.deps.Registry.ListVersions(r.Context(), pkg.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	want := chi.URLParam(r, "version")
	for _, v := range versions {
		if v.SemVer() == want {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeError(w, http.StatusNotFound, "version not found")
}

// getScanResult implements GET /v1/scan/{versionID}.
func (h *handlers) getScanResult(w http.ResponseWriter, r *http.Request) {
	result, err := h.deps.Registry.GetScanResult(r.Context(), chi.URLParam(r, "versionID"))
	if errors.Is(err, registry.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// search implements GET /v1/search?q=...: a keyword-only slice of spec
// §4.14's hybrid scorer over exact/prefix package name matches, since the
// vector and authority signals require the embedding index and the
// PageRank background job respectively — both out of this handler's
// synchronous request path.
func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusOK, []models.Package{})
		return
	}
	pkg, err := h.deps.Registry.GetPackageByName(r.Context(), q)
	if errors.Is(err, registry.ErrNotFound) {
		writeJSON(w, http.StatusOK, []models.Package{})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, []*models.Package{pkg})
}

// getTUFTargets implements GET /v1/tuf/targets.json.
func (h *handlers) getTUFTargets(w http.ResponseWriter, r *http.Request) {
	m, ok := h.tufMetadata()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "tuf metadata not yet generated")
		return
	}
	writeJSON(w, http.StatusOK, m.Targets)
}

// getTUFSnapshot implements GET /v1/tuf/snapshot.json.
func (h *handlers) getTUFSnapshot(w http.ResponseWriter, r *http.Request) {
	m, ok := h.tufMetadata()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "tuf metadata not yet generated")
		return
	}
	writeJSON(w, http.StatusOK, m.Snapshot)
}

// getTUFTimestamp implements GET /v1/tuf/timestamp.json.
func (h *handlers) getTUFTimestamp(w http.ResponseWriter, r *http.Request) {
	m, ok := h.tufMetadata()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "tuf metadata not yet generated")
		return
	}
	writeJSON(w, http.StatusOK, m.Timestamp)
}

// getAuditReport implements GET /v1/audit: the accumulated capability
// denial, signature-failure, and scan-verdict findings recorded by this
// process since it started (spec §4.2/§4.9/§4.11's denial and verdict
// events, surfaced for an operator rather than persisted).
func (h *handlers) getAuditReport(w http.ResponseWriter, r *http.Request) {
	if h.deps.Audit == nil {
		writeJSON(w, http.StatusOK, audit.Report{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Audit.Snapshot())
}

func (h *handlers) tufMetadata() (metadataservice.RefreshedMetadata, bool) {
	if h.deps.TUF == nil {
		return metadataservice.RefreshedMetadata{}, false
	}
	return h.deps.TUF.Get()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
