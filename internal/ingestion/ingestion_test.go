package ingestion

import (
	"context"
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/observability"
)

type fakeKeys struct {
	pub ed25519.PublicKey
	err error
}

func (f fakeKeys) PublicKeyFor(ctx context.Context, uploaderID string) (ed25519.PublicKey, error) {
	return f.pub, f.err
}

type fakeStore struct {
	artifacts map[string][]byte
	sboms     map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{artifacts: map[string][]byte{}, sboms: map[string][]byte{}}
}

func (f *fakeStore) PutArtifact(ctx context.Context, componentID string, data []byte) (string, error) {
	f.artifacts[componentID] = data
	return "storage/" + componentID + ".wasm", nil
}

func (f *fakeStore) PutSBOM(ctx context.Context, componentID string, data []byte) error {
	f.sboms[componentID] = data
	return nil
}

type fakeQueue struct {
	jobs []ScanJob
}

func (f *fakeQueue) Enqueue(ctx context.Context, job ScanJob) error {
	f.jobs = append(f.jobs, job)
	return nil
}

func newService(t *testing.T, keys SigningKeys, store ArtifactStore, queue ScanQueue) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Service{
		DB:     db,
		Keys:   keys,
		Store:  store,
		Queue:  queue,
		Logger: observability.NewLogger(observability.LogConfig{}),
	}, mock
}

func signedRequest(t *testing.T, pub ed25519.PublicKey, priv ed25519.PrivateKey) PublishRequest {
	t.Helper()
	artifact := []byte("fake wasm bytes")
	sig := cryptoutil.Sign(priv, artifact)
	return PublishRequest{
		UploaderID:    "user-1",
		Name:          "left-pad",
		Description:   "pads strings",
		Ecosystem:     "npm",
		Purl:          "pkg:npm/left-pad@1.3.0",
		Version:       "1.3.0",
		ArtifactBytes: artifact,
		Signature:     sig,
	}
}

func TestPublishRejectsInvalidSignature(t *testing.T) {
	pub, _, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	svc, _ := newService(t, fakeKeys{pub: pub}, newFakeStore(), &fakeQueue{})
	rec := audit.NewRecorder(0)
	svc.Audit = rec

	req := PublishRequest{
		UploaderID:    "user-1",
		Purl:          "pkg:npm/left-pad@1.3.0",
		ArtifactBytes: []byte("fake wasm bytes"),
		Signature:     []byte("not a real signature"),
	}
	_, err = svc.Publish(context.Background(), req)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}

	snap := rec.Snapshot()
	if len(snap.Findings) != 1 || snap.Findings[0].CheckID != "publish.invalid_signature" {
		t.Fatalf("expected one publish.invalid_signature finding, got %+v", snap.Findings)
	}
}

func TestPublishRejectsOwnershipConflict(t *testing.T) {
	pub, priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	svc, mock := newService(t, fakeKeys{pub: pub}, newFakeStore(), &fakeQueue{})
	req := signedRequest(t, pub, priv)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(sqlmock.AnyArg(), req.Name, req.UploaderID, req.Description).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id"}).AddRow("pkg-1", "someone-else"))
	mock.ExpectRollback()

	_, err = svc.Publish(context.Background(), req)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPublishHappyPathCommitsAndEnqueuesScan(t *testing.T) {
	pub, priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	store := newFakeStore()
	queue := &fakeQueue{}
	svc, mock := newService(t, fakeKeys{pub: pub}, store, queue)
	req := signedRequest(t, pub, priv)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(sqlmock.AnyArg(), req.Name, req.UploaderID, req.Description).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id"}).AddRow("pkg-1", req.UploaderID))
	mock.ExpectQuery("INSERT INTO components").
		WithArgs(sqlmock.AnyArg(), req.Purl, req.Ecosystem, req.Name, req.Version, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("comp-1"))
	mock.ExpectQuery("INSERT INTO package_versions").
		WithArgs(sqlmock.AnyArg(), "pkg-1", "comp-1", 1, 3, 0, "", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("version-1"))
	mock.ExpectCommit()

	result, err := svc.Publish(context.Background(), req)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if result.ComponentID != "comp-1" || result.VersionID != "version-1" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if _, ok := store.artifacts["comp-1"]; !ok {
		t.Fatal("expected artifact bytes to be persisted")
	}
	if len(queue.jobs) != 1 || queue.jobs[0].VersionID != "version-1" {
		t.Fatalf("expected one scan job for version-1, got %+v", queue.jobs)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPublishRollsBackOnDuplicateVersion(t *testing.T) {
	pub, priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	svc, mock := newService(t, fakeKeys{pub: pub}, newFakeStore(), &fakeQueue{})
	req := signedRequest(t, pub, priv)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO packages").
		WithArgs(sqlmock.AnyArg(), req.Name, req.UploaderID, req.Description).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id"}).AddRow("pkg-1", req.UploaderID))
	mock.ExpectQuery("INSERT INTO components").
		WithArgs(sqlmock.AnyArg(), req.Purl, req.Ecosystem, req.Name, req.Version, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("comp-1"))
	mock.ExpectQuery("INSERT INTO package_versions").
		WithArgs(sqlmock.AnyArg(), "pkg-1", "comp-1", 1, 3, 0, "", "", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"})) // no row: ON CONFLICT DO NOTHING
	mock.ExpectRollback()

	_, err = svc.Publish(context.Background(), req)
	if !errors.Is(err, ErrVersionExists) {
		t.Fatalf("expected ErrVersionExists, got %v", err)
	}
}

func TestParseSemVerRejectsMalformedVersion(t *testing.T) {
	if _, _, _, _, err := parseSemVer("not-a-version"); err == nil {
		t.Fatal("expected error for malformed version")
	}
	major, minor, patch, pre, err := parseSemVer("2.10.3-beta.1")
	if err != nil {
		t.Fatalf("parseSemVer: %v", err)
	}
	if major != 2 || minor != 10 || patch != 3 || pre != "beta.1" {
		t.Fatalf("unexpected parse result: %d.%d.%d-%s", major, minor, patch, pre)
	}
}

func TestParsePurlMetaExtractsEcosystemAndName(t *testing.T) {
	eco, name := parsePurlMeta("pkg:npm/left-pad@1.3.0")
	if eco != "npm" || name != "left-pad" {
		t.Fatalf("unexpected parse: eco=%q name=%q", eco, name)
	}
	eco, name = parsePurlMeta("not-a-purl")
	if eco != "unknown" || name != "unknown" {
		t.Fatalf("expected unknown/unknown fallback, got eco=%q name=%q", eco, name)
	}
}
