package registry

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/env-architect/architect/pkg/models"
)

// newTestRepository wires a Repository over a sqlmock database, expecting
// the fixed sequence of Prepare calls prepareStatements issues.
func newTestRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 19; i++ {
		mock.ExpectPrepare(".*")
	}

	repo, err := NewRepository(db, nil)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo, mock
}

func TestUpsertComponentAssignsIDAndTimestamps(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("INSERT INTO components").
		WithArgs(sqlmock.AnyArg(), "pkg:npm/left-pad@1.3.0", "npm", "left-pad", "1.3.0", "deadbeef", int64(128), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("generated-id"))

	c := &models.Component{
		Purl:      "pkg:npm/left-pad@1.3.0",
		Ecosystem: "npm",
		Name:      "left-pad",
		Version:   "1.3.0",
		SHA256:    "deadbeef",
		Size:      128,
	}
	if err := repo.UpsertComponent(context.Background(), c); err != nil {
		t.Fatalf("UpsertComponent: %v", err)
	}
	if c.ID != "generated-id" {
		t.Fatalf("expected id to be populated from RETURNING, got %q", c.ID)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be populated")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetComponentByPurlNotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery("SELECT .* FROM components WHERE purl").
		WithArgs("pkg:npm/nonexistent@1.0.0").
		WillReturnRows(sqlmock.NewRows([]string{"id", "purl", "ecosystem", "name", "version", "sha256", "size", "created_at", "updated_at"}))

	_, err := repo.GetComponentByPurl(context.Background(), "pkg:npm/nonexistent@1.0.0")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetOrCreatePackageIsIdempotent(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO packages").
		WithArgs(sqlmock.AnyArg(), "left-pad", "owner-1", "pads strings", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0)) // ON CONFLICT DO NOTHING: no row affected

	rows := sqlmock.NewRows([]string{
		"id", "name", "owner_id", "description", "embedding",
		"quality_score", "popularity_score", "maintenance_score", "authority_score", "trending_score",
		"created_at", "updated_at",
	}).AddRow("existing-id", "left-pad", "original-owner", "pads strings", nil, 0.0, 0.0, 0.0, 0.0, 0.0, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM packages WHERE name").
		WithArgs("left-pad").
		WillReturnRows(rows)

	pkg, err := repo.GetOrCreatePackage(context.Background(), "left-pad", "owner-1", "pads strings")
	if err != nil {
		t.Fatalf("GetOrCreatePackage: %v", err)
	}
	if pkg.OwnerID != "original-owner" {
		t.Fatalf("expected existing owner to survive re-insert attempt, got %q", pkg.OwnerID)
	}
}

func TestCreateVersionDefaultsApprovalStatus(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO package_versions").
		WithArgs(sqlmock.AnyArg(), "pkg-1", "comp-1", 1, 3, 0, "", "", "sha256:abc", models.ApprovalPending, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	v := &models.PackageVersion{
		PackageID:     "pkg-1",
		ComponentID:   "comp-1",
		Major:         1,
		Minor:         3,
		Patch:         0,
		IntegrityHash: "sha256:abc",
	}
	if err := repo.CreateVersion(context.Background(), v); err != nil {
		t.Fatalf("CreateVersion: %v", err)
	}
	if v.ApprovalStatus != models.ApprovalPending {
		t.Fatalf("expected default approval status PENDING, got %q", v.ApprovalStatus)
	}
	if v.ID == "" {
		t.Fatal("expected generated ID")
	}
}

func TestUpsertScanResultReturnsRecordedVerdict(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectExec("INSERT INTO scan_results").
		WithArgs(sqlmock.AnyArg(), "version-1", models.ScanSafe, []byte("no findings"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT .* FROM scan_results WHERE version_id").
		WithArgs("version-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version_id", "status", "report", "created_at"}).
			AddRow("scan-1", "version-1", models.ScanSafe, []byte("no findings"), time.Now()))

	result, err := repo.UpsertScanResult(context.Background(), &models.ScanResult{
		VersionID: "version-1",
		Status:    models.ScanSafe,
		Report:    []byte("no findings"),
	})
	if err != nil {
		t.Fatalf("UpsertScanResult: %v", err)
	}
	if result.Status != models.ScanSafe {
		t.Fatalf("expected status safe, got %q", result.Status)
	}
}

func TestListTargetableComponentsSkipsUnapproved(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"name", "version", "sha256", "size", "package_id"}).
		AddRow("left-pad", "1.3.0", "deadbeef", int64(128), "pkg-1")
	mock.ExpectQuery("SELECT .* FROM package_versions").WillReturnRows(rows)

	out, err := repo.ListTargetableComponents(context.Background())
	if err != nil {
		t.Fatalf("ListTargetableComponents: %v", err)
	}
	if len(out) != 1 || out[0].Name != "left-pad" || out[0].SHA256 != "deadbeef" {
		t.Fatalf("unexpected result: %+v", out)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListPendingUnscannedReturnsRows(t *testing.T) {
	repo, mock := newTestRepository(t)

	rows := sqlmock.NewRows([]string{"id", "component_id", "name", "version"}).
		AddRow("ver-1", "comp-1", "left-pad", "1.3.0")
	mock.ExpectQuery("SELECT .* FROM package_versions").WillReturnRows(rows)

	out, err := repo.ListPendingUnscanned(context.Background())
	if err != nil {
		t.Fatalf("ListPendingUnscanned: %v", err)
	}
	if len(out) != 1 || out[0].VersionID != "ver-1" || out[0].ComponentID != "comp-1" {
		t.Fatalf("unexpected result: %+v", out)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
