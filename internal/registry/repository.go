// Package registry is the Postgres-backed repository for the trust
// pipeline's catalog data: components, packages, versions, signatures,
// dependency edges, and scan results (spec §4.4/§4.9).
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/pkg/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("registry: not found")

// Repository is the SQL-backed store for registry catalog data.
type Repository struct {
	db     *sql.DB
	logger *observability.Logger

	stmtUpsertComponent     *sql.Stmt
	stmtGetComponentByPurl  *sql.Stmt
	stmtGetComponentByID    *sql.Stmt
	stmtInsertPackage       *sql.Stmt
	stmtGetPackageByName    *sql.Stmt
	stmtGetPackageByID      *sql.Stmt
	stmtUpdatePackageScores *sql.Stmt
	stmtInsertVersion       *sql.Stmt
	stmtGetVersion          *sql.Stmt
	stmtListVersions        *sql.Stmt
	stmtLatestApproved      *sql.Stmt
	stmtInsertSignature     *sql.Stmt
	stmtListSignatures      *sql.Stmt
	stmtUpsertDependency    *sql.Stmt
	stmtListDependencies    *sql.Stmt
	stmtUpsertScanResult    *sql.Stmt
	stmtGetScanResult       *sql.Stmt
	stmtListTargetable      *sql.Stmt
	stmtListPendingUnscanned *sql.Stmt
}

// NewRepository prepares a Repository over db.
func NewRepository(db *sql.DB, logger *observability.Logger) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	r := &Repository{db: db, logger: logger}
	if err := r.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return r, nil
}

func (r *Repository) prepareStatements() error {
	var err error

	r.stmtUpsertComponent, err = r.db.Prepare(`
		INSERT INTO components (id, purl, ecosystem, name, version, sha256, size, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (purl) DO UPDATE SET
			sha256 = EXCLUDED.sha256,
			size = EXCLUDED.size,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert component: %w", err)
	}

	r.stmtGetComponentByPurl, err = r.db.Prepare(`
		SELECT id, purl, ecosystem, name, version, sha256, size, created_at, updated_at
		FROM components WHERE purl = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get component by purl: %w", err)
	}

	r.stmtGetComponentByID, err = r.db.Prepare(`
		SELECT id, purl, ecosystem, name, version, sha256, size, created_at, updated_at
		FROM components WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get component by id: %w", err)
	}

	r.stmtInsertPackage, err = r.db.Prepare(`
		INSERT INTO packages (id, name, owner_id, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert package: %w", err)
	}

	r.stmtGetPackageByName, err = r.db.Prepare(`
		SELECT id, name, owner_id, description, embedding, quality_score, popularity_score,
			maintenance_score, authority_score, trending_score, created_at, updated_at
		FROM packages WHERE name = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get package by name: %w", err)
	}

	r.stmtGetPackageByID, err = r.db.Prepare(`
		SELECT id, name, owner_id, description, embedding, quality_score, popularity_score,
			maintenance_score, authority_score, trending_score, created_at, updated_at
		FROM packages WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get package by id: %w", err)
	}

	r.stmtUpdatePackageScores, err = r.db.Prepare(`
		UPDATE packages SET
			quality_score = $2,
			popularity_score = $3,
			maintenance_score = $4,
			authority_score = $5,
			trending_score = $6,
			updated_at = $7
		WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare update package scores: %w", err)
	}

	r.stmtInsertVersion, err = r.db.Prepare(`
		INSERT INTO package_versions
			(id, package_id, component_id, major, minor, patch, pre, oci_reference, integrity_hash, approval_status, yanked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (package_id, major, minor, patch, pre) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare insert version: %w", err)
	}

	r.stmtGetVersion, err = r.db.Prepare(`
		SELECT id, package_id, component_id, major, minor, patch, pre, oci_reference,
			integrity_hash, approval_status, yanked, created_at
		FROM package_versions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get version: %w", err)
	}

	r.stmtListVersions, err = r.db.Prepare(`
		SELECT id, package_id, component_id, major, minor, patch, pre, oci_reference,
			integrity_hash, approval_status, yanked, created_at
		FROM package_versions WHERE package_id = $1
		ORDER BY major DESC, minor DESC, patch DESC, created_at DESC
	`)
	if err != nil {
		return fmt.Errorf("prepare list versions: %w", err)
	}

	r.stmtLatestApproved, err = r.db.Prepare(`
		SELECT id, package_id, component_id, major, minor, patch, pre, oci_reference,
			integrity_hash, approval_status, yanked, created_at
		FROM package_versions
		WHERE package_id = $1 AND approval_status = 'APPROVED' AND yanked = false
		ORDER BY major DESC, minor DESC, patch DESC
		LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare latest approved: %w", err)
	}

	r.stmtInsertSignature, err = r.db.Prepare(`
		INSERT INTO signatures (id, version_id, signer_type, signer_id, signature, certificate, public_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert signature: %w", err)
	}

	r.stmtListSignatures, err = r.db.Prepare(`
		SELECT id, version_id, signer_type, signer_id, signature, certificate, public_key, created_at
		FROM signatures WHERE version_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare list signatures: %w", err)
	}

	r.stmtUpsertDependency, err = r.db.Prepare(`
		INSERT INTO dependency_edges (id, source_id, target_id, version_requirement, kind)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id, target_id, kind) DO UPDATE SET
			version_requirement = EXCLUDED.version_requirement
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert dependency edge: %w", err)
	}

	r.stmtListDependencies, err = r.db.Prepare(`
		SELECT id, source_id, target_id, version_requirement, kind
		FROM dependency_edges WHERE source_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare list dependency edges: %w", err)
	}

	r.stmtUpsertScanResult, err = r.db.Prepare(`
		INSERT INTO scan_results (id, version_id, status, report, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (version_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("prepare upsert scan result: %w", err)
	}

	r.stmtGetScanResult, err = r.db.Prepare(`
		SELECT id, version_id, status, report, created_at
		FROM scan_results WHERE version_id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get scan result: %w", err)
	}

	r.stmtListTargetable, err = r.db.Prepare(`
		SELECT c.name, c.version, c.sha256, c.size, pv.package_id
		FROM package_versions pv
		JOIN components c ON c.id = pv.component_id
		WHERE pv.approval_status = 'APPROVED' AND pv.yanked = false
	`)
	if err != nil {
		return fmt.Errorf("prepare list targetable components: %w", err)
	}

	r.stmtListPendingUnscanned, err = r.db.Prepare(`
		SELECT pv.id, pv.component_id, c.name, c.version
		FROM package_versions pv
		JOIN components c ON c.id = pv.component_id
		LEFT JOIN scan_results sr ON sr.version_id = pv.id
		WHERE pv.approval_status = 'PENDING' AND sr.id IS NULL
	`)
	if err != nil {
		return fmt.Errorf("prepare list pending unscanned versions: %w", err)
	}

	return nil
}

// UpsertComponent inserts c, or refreshes its sha256/size/updated_at if its
// purl already exists. c.ID and c.CreatedAt are populated if unset.
func (r *Repository) UpsertComponent(ctx context.Context, c *models.Component) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	err := r.stmtUpsertComponent.QueryRowContext(ctx,
		c.ID, c.Purl, c.Ecosystem, c.Name, c.Version, c.SHA256, c.Size, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upsert component: %w", err)
	}
	return nil
}

// GetComponentByPurl looks up a component by its package URL.
func (r *Repository) GetComponentByPurl(ctx context.Context, purl string) (*models.Component, error) {
	var c models.Component
	err := r.stmtGetComponentByPurl.QueryRowContext(ctx, purl).Scan(
		&c.ID, &c.Purl, &c.Ecosystem, &c.Name, &c.Version, &c.SHA256, &c.Size, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get component by purl: %w", err)
	}
	return &c, nil
}

// GetComponentByID looks up a component by its primary key.
func (r *Repository) GetComponentByID(ctx context.Context, id string) (*models.Component, error) {
	var c models.Component
	err := r.stmtGetComponentByID.QueryRowContext(ctx, id).Scan(
		&c.ID, &c.Purl, &c.Ecosystem, &c.Name, &c.Version, &c.SHA256, &c.Size, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get component by id: %w", err)
	}
	return &c, nil
}

// GetOrCreatePackage returns the package named name, creating it (owned by
// ownerID) if it does not already exist. Packages are append-only: an
// existing package's owner is never overwritten by a later call.
func (r *Repository) GetOrCreatePackage(ctx context.Context, name, ownerID, description string) (*models.Package, error) {
	id := uuid.NewString()
	now := time.Now()
	if _, err := r.stmtInsertPackage.ExecContext(ctx, id, name, ownerID, description, now, now); err != nil {
		return nil, fmt.Errorf("insert package: %w", err)
	}
	return r.GetPackageByName(ctx, name)
}

// GetPackageByName looks up a package by its unique name.
func (r *Repository) GetPackageByName(ctx context.Context, name string) (*models.Package, error) {
	return r.scanPackage(r.stmtGetPackageByName.QueryRowContext(ctx, name))
}

// GetPackageByID looks up a package by its primary key.
func (r *Repository) GetPackageByID(ctx context.Context, id string) (*models.Package, error) {
	return r.scanPackage(r.stmtGetPackageByID.QueryRowContext(ctx, id))
}

func (r *Repository) scanPackage(row *sql.Row) (*models.Package, error) {
	var p models.Package
	var embedding pq.Float64Array
	err := row.Scan(
		&p.ID, &p.Name, &p.OwnerID, &p.Description, &embedding,
		&p.QualityScore, &p.PopularityScore, &p.MaintenanceScore, &p.AuthorityScore, &p.TrendingScore,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan package: %w", err)
	}
	if len(embedding) > 0 {
		p.Embedding = make([]float32, len(embedding))
		for i, v := range embedding {
			p.Embedding[i] = float32(v)
		}
	}
	return &p, nil
}

// UpdatePackageScores persists the hybrid-ranking scores computed by
// internal/search for one package (spec §4.14).
func (r *Repository) UpdatePackageScores(ctx context.Context, packageID string, quality, popularity, maintenance, authority, trending float64) error {
	_, err := r.stmtUpdatePackageScores.ExecContext(ctx, packageID, quality, popularity, maintenance, authority, trending, time.Now())
	if err != nil {
		return fmt.Errorf("update package scores: %w", err)
	}
	return nil
}

// CreateVersion inserts v, or leaves the existing row untouched if its
// (package, semver) tuple is already published, per spec §4.9's
// idempotent-republish invariant.
func (r *Repository) CreateVersion(ctx context.Context, v *models.PackageVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	if v.ApprovalStatus == "" {
		v.ApprovalStatus = models.ApprovalPending
	}

	_, err := r.stmtInsertVersion.ExecContext(ctx,
		v.ID, v.PackageID, v.ComponentID, v.Major, v.Minor, v.Patch, v.Pre,
		v.OCIReference, v.IntegrityHash, v.ApprovalStatus, v.Yanked, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert package version: %w", err)
	}
	return nil
}

// GetVersion looks up a published version by its primary key.
func (r *Repository) GetVersion(ctx context.Context, id string) (*models.PackageVersion, error) {
	return r.scanVersion(r.stmtGetVersion.QueryRowContext(ctx, id))
}

// ListVersions returns every version of packageID, newest first.
func (r *Repository) ListVersions(ctx context.Context, packageID string) ([]models.PackageVersion, error) {
	rows, err := r.stmtListVersions.QueryContext(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()
	return r.scanVersionRows(rows)
}

// LatestApprovedVersion returns the highest-semver approved, non-yanked
// version of packageID.
func (r *Repository) LatestApprovedVersion(ctx context.Context, packageID string) (*models.PackageVersion, error) {
	return r.scanVersion(r.stmtLatestApproved.QueryRowContext(ctx, packageID))
}

func (r *Repository) scanVersion(row *sql.Row) (*models.PackageVersion, error) {
	var v models.PackageVersion
	err := row.Scan(
		&v.ID, &v.PackageID, &v.ComponentID, &v.Major, &v.Minor, &v.Patch, &v.Pre,
		&v.OCIReference, &v.IntegrityHash, &v.ApprovalStatus, &v.Yanked, &v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan package version: %w", err)
	}
	return &v, nil
}

func (r *Repository) scanVersionRows(rows *sql.Rows) ([]models.PackageVersion, error) {
	var out []models.PackageVersion
	for rows.Next() {
		var v models.PackageVersion
		if err := rows.Scan(
			&v.ID, &v.PackageID, &v.ComponentID, &v.Major, &v.Minor, &v.Patch, &v.Pre,
			&v.OCIReference, &v.IntegrityHash, &v.ApprovalStatus, &v.Yanked, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan package version row: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// InsertSignature records one signature over a published version.
func (r *Repository) InsertSignature(ctx context.Context, s *models.Signature) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	_, err := r.stmtInsertSignature.ExecContext(ctx,
		s.ID, s.VersionID, s.SignerType, s.SignerID, s.Signature, s.Certificate, s.PublicKey, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signature: %w", err)
	}
	return nil
}

// ListSignatures returns every signature recorded against versionID.
func (r *Repository) ListSignatures(ctx context.Context, versionID string) ([]models.Signature, error) {
	rows, err := r.stmtListSignatures.QueryContext(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var out []models.Signature
	for rows.Next() {
		var s models.Signature
		if err := rows.Scan(&s.ID, &s.VersionID, &s.SignerType, &s.SignerID, &s.Signature, &s.Certificate, &s.PublicKey, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertDependencyEdge records or refreshes one dependency relationship.
func (r *Repository) UpsertDependencyEdge(ctx context.Context, e *models.DependencyEdge) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := r.stmtUpsertDependency.ExecContext(ctx, e.ID, e.SourceID, e.TargetID, e.Requirement, e.Kind)
	if err != nil {
		return fmt.Errorf("upsert dependency edge: %w", err)
	}
	return nil
}

// ListDependencyEdges returns every edge originating at sourceID.
func (r *Repository) ListDependencyEdges(ctx context.Context, sourceID string) ([]models.DependencyEdge, error) {
	rows, err := r.stmtListDependencies.QueryContext(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list dependency edges: %w", err)
	}
	defer rows.Close()

	var out []models.DependencyEdge
	for rows.Next() {
		var e models.DependencyEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Requirement, &e.Kind); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertScanResult records the scan-worker's verdict for a version. Per
// spec §4.12, a version is scanned at most once; a second call for the
// same version is a silent no-op and returns the originally recorded
// result.
func (r *Repository) UpsertScanResult(ctx context.Context, s *models.ScanResult) (*models.ScanResult, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if _, err := r.stmtUpsertScanResult.ExecContext(ctx, s.ID, s.VersionID, s.Status, s.Report, s.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert scan result: %w", err)
	}
	return r.GetScanResult(ctx, s.VersionID)
}

// GetScanResult returns the recorded scan verdict for versionID.
func (r *Repository) GetScanResult(ctx context.Context, versionID string) (*models.ScanResult, error) {
	var s models.ScanResult
	err := r.stmtGetScanResult.QueryRowContext(ctx, versionID).Scan(&s.ID, &s.VersionID, &s.Status, &s.Report, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scan result: %w", err)
	}
	return &s, nil
}

// TargetableComponent is one approved, non-yanked artifact eligible for
// inclusion in the next TUF targets document.
type TargetableComponent struct {
	Name      string
	Version   string
	SHA256    string
	Size      int64
	PackageID string
}

// ListTargetableComponents returns every component backing an APPROVED,
// non-yanked package version, the set the metadata signing service folds
// into targets.json.
func (r *Repository) ListTargetableComponents(ctx context.Context) ([]TargetableComponent, error) {
	rows, err := r.stmtListTargetable.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targetable components: %w", err)
	}
	defer rows.Close()

	var out []TargetableComponent
	for rows.Next() {
		var c TargetableComponent
		if err := rows.Scan(&c.Name, &c.Version, &c.SHA256, &c.Size, &c.PackageID); err != nil {
			return nil, fmt.Errorf("scan targetable component: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PendingVersion is one package version awaiting a scan result.
type PendingVersion struct {
	VersionID   string
	ComponentID string
	Name        string
	Version     string
}

// ListPendingUnscanned returns every PENDING package version that has no
// recorded scan result yet, the scan-worker's reconciliation source of
// truth (spec §4.11) alongside its push-queue fast path.
func (r *Repository) ListPendingUnscanned(ctx context.Context) ([]PendingVersion, error) {
	rows, err := r.stmtListPendingUnscanned.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending unscanned versions: %w", err)
	}
	defer rows.Close()

	var out []PendingVersion
	for rows.Next() {
		var p PendingVersion
		if err := rows.Scan(&p.VersionID, &p.ComponentID, &p.Name, &p.Version); err != nil {
			return nil, fmt.Errorf("scan pending unscanned version: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close releases the repository's prepared statements.
func (r *Repository) Close() error {
	stmts := []*sql.Stmt{
		r.stmtUpsertComponent, r.stmtGetComponentByPurl, r.stmtGetComponentByID,
		r.stmtInsertPackage, r.stmtGetPackageByName, r.stmtGetPackageByID, r.stmtUpdatePackageScores,
		r.stmtInsertVersion, r.stmtGetVersion, r.stmtListVersions, r.stmtLatestApproved,
		r.stmtInsertSignature, r.stmtListSignatures,
		r.stmtUpsertDependency, r.stmtListDependencies,
		r.stmtUpsertScanResult, r.stmtGetScanResult,
		r.stmtListTargetable, r.stmtListPendingUnscanned,
	}
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close statements: %v", errs)
	}
	return nil
}
