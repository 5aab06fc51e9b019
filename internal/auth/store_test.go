package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/env-architect/architect/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 11; i++ {
		mock.ExpectPrepare(".*")
	}

	store, err := NewStore(db, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, mock
}

func TestStoreCreateAPIKeyAssignsIDAndTimestamp(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO api_keys").
		WithArgs(sqlmock.AnyArg(), "user-1", "env_live_abcd", "argon-hash", "lookup-sha", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key := &models.APIKey{
		UserID:    "user-1",
		Prefix:    "env_live_abcd",
		ArgonHash: "argon-hash",
		LookupSHA: "lookup-sha",
	}
	if err := store.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}
	if key.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if key.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreFindAPIKeyByLookupHashNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM api_keys WHERE lookup_sha").
		WithArgs("missing-sha").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "prefix", "argon_hash", "lookup_sha", "scopes", "created_at", "last_used_at", "revoked"}))

	key, err := store.FindAPIKeyByLookupHash(context.Background(), "missing-sha")
	if err != nil {
		t.Fatalf("FindAPIKeyByLookupHash: %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil for a missing key, got %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreGetDeviceCodeNotFoundReturnsExpiredError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM device_codes WHERE device_code").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"device_code", "user_code", "verification_uri", "user_id", "bound", "interval_seconds", "expires_at", "created_at"}))

	if _, err := store.GetDeviceCode(context.Background(), "missing"); err != ErrDeviceCodeExpired {
		t.Fatalf("expected ErrDeviceCodeExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreBindUserCodeNoMatchingRowReturnsExpiredError(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE device_codes SET user_id").
		WithArgs("AAAA-BBBB", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.BindUserCode(context.Background(), "AAAA-BBBB", "user-1"); err != ErrDeviceCodeExpired {
		t.Fatalf("expected ErrDeviceCodeExpired, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreCreateRefreshTokenAssignsID(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("INSERT INTO refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "user-1", "lookup-sha", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rt := &models.RefreshToken{
		UserID:    "user-1",
		LookupSHA: "lookup-sha",
		ExpiresAt: time.Now().Add(30 * 24 * time.Hour),
		CreatedAt: time.Now(),
	}
	if err := store.CreateRefreshToken(context.Background(), rt); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	if rt.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreLatestSigningKeyForUserNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM signing_keys WHERE user_id").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "public_key", "created_at"}))

	key, err := store.LatestSigningKeyFor(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("LatestSigningKeyFor: %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil for a user with no signing key, got %+v", key)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
