// Package ingestion implements the registry's publish pipeline (spec
// §4.9): signature verification, package/component/version bookkeeping,
// artifact storage, dependency graph edges, and scan-queue handoff.
package ingestion

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/pkg/models"
)

// Errors returned by Publish, per spec §4.9/§7.
var (
	ErrForbidden        = errors.New("forbidden")
	ErrVersionExists    = errors.New("version already published")
	ErrInvalidSignature = errors.New("invalid artifact signature")
)

// DependencyRequest is one declared dependency of the artifact being
// published.
type DependencyRequest struct {
	Purl        string
	Requirement string
	Kind        models.DependencyKind
}

// PublishRequest is the decoded multipart payload from spec §4.9's
// upload endpoint, plus the identity the caller's auth middleware has
// already established (step 1 — authentication — happens upstream).
type PublishRequest struct {
	UploaderID    string
	Name          string
	Description   string
	Ecosystem     string
	Purl          string
	Version       string // raw semver, e.g. "1.2.3" or "1.2.3-beta.1"
	OCIReference  string
	Dependencies  []DependencyRequest
	ArtifactBytes []byte
	SBOMBytes     []byte
	Signature     []byte // decoded X-Signature
}

// PublishResult is returned on a successful publish.
type PublishResult struct {
	ComponentID string
	VersionID   string
	Message     string
}

// SigningKeys resolves a user's registered Ed25519 signing public key
// (spec §4.9 step 2).
type SigningKeys interface {
	PublicKeyFor(ctx context.Context, uploaderID string) (ed25519.PublicKey, error)
}

// ArtifactStore persists the published Wasm bytes and optional SBOM
// (spec §4.9 step 6).
type ArtifactStore interface {
	PutArtifact(ctx context.Context, componentID string, data []byte) (storageKey string, err error)
	PutSBOM(ctx context.Context, componentID string, data []byte) error
}

// ScanJob is the work item handed to the scan-worker queue.
type ScanJob struct {
	VersionID  string
	Name       string
	Version    string
	StorageKey string
}

// ScanQueue enqueues a ScanJob for the scan-worker (spec §4.9 step 8).
type ScanQueue interface {
	Enqueue(ctx context.Context, job ScanJob) error
}

// Service wires the publish pipeline together over a single SQL
// transaction for steps 3-5 and 7, with the non-transactional storage
// write (step 6) and scan-queue handoff (step 8) happening after commit.
type Service struct {
	DB     *sql.DB
	Keys   SigningKeys
	Store  ArtifactStore
	Queue  ScanQueue
	Logger *observability.Logger
	// Audit receives a structured finding for a rejected signature. Nil
	// is a valid, no-auditing default.
	Audit audit.Sink
}

// Publish runs the full §4.9 pipeline and returns the new component and
// version IDs, or the first failing step's error. Any failure from step
// 2 onward that reaches the database leaves no component or version row
// behind: steps 3-5 and 7 share one transaction that is rolled back on
// any error.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	pub, err := s.Keys.PublicKeyFor(ctx, req.UploaderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	if len(req.Signature) == 0 || !cryptoutil.Verify(pub, req.ArtifactBytes, req.Signature) {
		if s.Audit != nil {
			s.Audit.Record(audit.SignatureInvalid(req.Purl, req.UploaderID))
		}
		return nil, ErrInvalidSignature
	}

	major, minor, patch, pre, err := parseSemVer(req.Version)
	if err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin publish transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	packageID, err := upsertPackage(ctx, tx, req.Name, req.UploaderID, req.Description)
	if err != nil {
		return nil, err
	}

	sha256Hex := cryptoutil.SHA256Hex(req.ArtifactBytes)
	componentID, err := upsertComponent(ctx, tx, req.Purl, req.Ecosystem, req.Name, req.Version, sha256Hex, int64(len(req.ArtifactBytes)))
	if err != nil {
		return nil, err
	}

	versionID, err := insertVersion(ctx, tx, packageID, componentID, major, minor, patch, pre, req.OCIReference, sha256Hex)
	if err != nil {
		return nil, err
	}

	for _, dep := range req.Dependencies {
		ecosystem, name := parsePurlMeta(dep.Purl)
		targetID, err := upsertExternalComponent(ctx, tx, dep.Purl, ecosystem, name)
		if err != nil {
			return nil, fmt.Errorf("upsert dependency component %s: %w", dep.Purl, err)
		}
		if err := upsertDependencyEdge(ctx, tx, componentID, targetID, dep.Requirement, dep.Kind); err != nil {
			return nil, fmt.Errorf("upsert dependency edge %s: %w", dep.Purl, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit publish transaction: %w", err)
	}

	storageKey, err := s.Store.PutArtifact(ctx, componentID, req.ArtifactBytes)
	if err != nil {
		s.Logger.Error(ctx, "failed to persist published artifact", "component_id", componentID, "error", err)
		return nil, fmt.Errorf("store artifact: %w", err)
	}
	if len(req.SBOMBytes) > 0 {
		if err := s.Store.PutSBOM(ctx, componentID, req.SBOMBytes); err != nil {
			s.Logger.Warn(ctx, "failed to persist SBOM", "component_id", componentID, "error", err)
		}
	}

	job := ScanJob{VersionID: versionID, Name: req.Name, Version: req.Version, StorageKey: storageKey}
	if err := s.Queue.Enqueue(ctx, job); err != nil {
		s.Logger.Error(ctx, "failed to enqueue scan job", "version_id", versionID, "error", err)
	}

	s.Logger.Info(ctx, "published package version", "name", req.Name, "version", req.Version, "component_id", componentID)

	return &PublishResult{
		ComponentID: componentID,
		VersionID:   versionID,
		Message:     "Registered successfully. Waiting for scan and Notary approval.",
	}, nil
}

func upsertPackage(ctx context.Context, tx *sql.Tx, name, uploaderID, description string) (string, error) {
	id := uuid.NewString()
	var packageID, ownerID string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO packages (id, name, owner_id, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (name) DO UPDATE SET updated_at = now()
		RETURNING id, owner_id
	`, id, name, uploaderID, description).Scan(&packageID, &ownerID)
	if err != nil {
		return "", fmt.Errorf("upsert package: %w", err)
	}
	if ownerID != uploaderID {
		return "", fmt.Errorf("%w: package %q is owned by another user", ErrForbidden, name)
	}
	return packageID, nil
}

func upsertComponent(ctx context.Context, tx *sql.Tx, purl, ecosystem, name, version, sha256Hex string, size int64) (string, error) {
	id := uuid.NewString()
	var componentID string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO components (id, purl, ecosystem, name, version, sha256, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		ON CONFLICT (purl) DO UPDATE SET
			sha256 = EXCLUDED.sha256,
			size = EXCLUDED.size,
			updated_at = now()
		RETURNING id
	`, id, purl, ecosystem, name, version, sha256Hex, size).Scan(&componentID)
	if err != nil {
		return "", fmt.Errorf("upsert component: %w", err)
	}
	return componentID, nil
}

// upsertExternalComponent records a dependency's target component with no
// artifact of its own (version "external", per original_source's
// placeholder for not-yet-ingested dependencies).
func upsertExternalComponent(ctx context.Context, tx *sql.Tx, purl, ecosystem, name string) (string, error) {
	id := uuid.NewString()
	var componentID string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO components (id, purl, ecosystem, name, version, sha256, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'external', '', 0, now(), now())
		ON CONFLICT (purl) DO UPDATE SET updated_at = now()
		RETURNING id
	`, id, purl, ecosystem, name).Scan(&componentID)
	if err != nil {
		return "", fmt.Errorf("upsert external component: %w", err)
	}
	return componentID, nil
}

func insertVersion(ctx context.Context, tx *sql.Tx, packageID, componentID string, major, minor, patch int, pre, ociRef, integrityHash string) (string, error) {
	id := uuid.NewString()
	var versionID string
	err := tx.QueryRowContext(ctx, `
		INSERT INTO package_versions
			(id, package_id, component_id, major, minor, patch, pre, oci_reference, integrity_hash, approval_status, yanked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'PENDING', false, now())
		ON CONFLICT (package_id, major, minor, patch, pre) DO NOTHING
		RETURNING id
	`, id, packageID, componentID, major, minor, patch, pre, ociRef, integrityHash).Scan(&versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrVersionExists
	}
	if err != nil {
		return "", fmt.Errorf("insert version: %w", err)
	}
	return versionID, nil
}

func upsertDependencyEdge(ctx context.Context, tx *sql.Tx, sourceID, targetID, requirement string, kind models.DependencyKind) error {
	id := uuid.NewString()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dependency_edges (id, source_id, target_id, version_requirement, kind)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, target_id, kind) DO UPDATE SET version_requirement = EXCLUDED.version_requirement
	`, id, sourceID, targetID, requirement, kind)
	if err != nil {
		return fmt.Errorf("upsert dependency edge: %w", err)
	}
	return nil
}

// parseSemVer splits a "major.minor.patch[-pre]" string into its parts.
func parseSemVer(raw string) (major, minor, patch int, pre string, err error) {
	core := raw
	if idx := strings.IndexByte(raw, '-'); idx >= 0 {
		core = raw[:idx]
		pre = raw[idx+1:]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return 0, 0, 0, "", fmt.Errorf("malformed semver %q", raw)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := parsePositiveInt(p)
		if err != nil {
			return 0, 0, 0, "", fmt.Errorf("malformed semver component %q: %w", p, err)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], pre, nil
}

func parsePositiveInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty numeric component")
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-numeric component %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// parsePurlMeta extracts (ecosystem, name) from a "pkg:ecosystem/name@version"
// package URL, the shape produced by every ecosystem this registry tracks.
func parsePurlMeta(purl string) (ecosystem, name string) {
	rest, ok := strings.CutPrefix(purl, "pkg:")
	if !ok {
		return "unknown", "unknown"
	}
	eco, nameAndVersion, ok := strings.Cut(rest, "/")
	if !ok {
		return "unknown", "unknown"
	}
	name, _, _ = strings.Cut(nameAndVersion, "@")
	return eco, name
}
