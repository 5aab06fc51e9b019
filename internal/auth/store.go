package auth

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

// Store is the Postgres-backed implementation of APIKeyStore,
// DeviceFlowStore, and SigningKeyStore, following the same
// prepared-statement idiom as internal/registry.Repository.
type Store struct {
	db     *sql.DB
	logger *observability.Logger

	stmtCreateAPIKey            *sql.Stmt
	stmtFindAPIKeyByLookupHash  *sql.Stmt
	stmtTouchAPIKeyLastUsed     *sql.Stmt
	stmtCreateDeviceCode        *sql.Stmt
	stmtGetDeviceCode           *sql.Stmt
	stmtBindUserCode            *sql.Stmt
	stmtCreateRefreshToken      *sql.Stmt
	stmtFindRefreshTokenByHash  *sql.Stmt
	stmtRevokeRefreshToken      *sql.Stmt
	stmtCreateSigningKey        *sql.Stmt
	stmtLatestSigningKeyForUser *sql.Stmt
}

// NewStore prepares a Store over db.
func NewStore(db *sql.DB, logger *observability.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}

	s := &Store{db: db, logger: logger}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtCreateAPIKey, err = s.db.Prepare(`
		INSERT INTO api_keys (id, user_id, prefix, argon_hash, lookup_sha, scopes, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false)
	`)
	if err != nil {
		return fmt.Errorf("prepare create api key: %w", err)
	}

	s.stmtFindAPIKeyByLookupHash, err = s.db.Prepare(`
		SELECT id, user_id, prefix, argon_hash, lookup_sha, scopes, created_at, last_used_at, revoked
		FROM api_keys WHERE lookup_sha = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare find api key by lookup hash: %w", err)
	}

	s.stmtTouchAPIKeyLastUsed, err = s.db.Prepare(`
		UPDATE api_keys SET last_used_at = now() WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare touch api key last used: %w", err)
	}

	s.stmtCreateDeviceCode, err = s.db.Prepare(`
		INSERT INTO device_codes (device_code, user_code, verification_uri, interval_seconds, expires_at, created_at, bound)
		VALUES ($1, $2, $3, $4, $5, $6, false)
	`)
	if err != nil {
		return fmt.Errorf("prepare create device code: %w", err)
	}

	s.stmtGetDeviceCode, err = s.db.Prepare(`
		SELECT device_code, user_code, verification_uri, user_id, bound, interval_seconds, expires_at, created_at
		FROM device_codes WHERE device_code = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare get device code: %w", err)
	}

	s.stmtBindUserCode, err = s.db.Prepare(`
		UPDATE device_codes SET user_id = $2, bound = true WHERE user_code = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare bind user code: %w", err)
	}

	s.stmtCreateRefreshToken, err = s.db.Prepare(`
		INSERT INTO refresh_tokens (id, user_id, lookup_sha, expires_at, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, false)
	`)
	if err != nil {
		return fmt.Errorf("prepare create refresh token: %w", err)
	}

	s.stmtFindRefreshTokenByHash, err = s.db.Prepare(`
		SELECT id, user_id, lookup_sha, expires_at, created_at, revoked
		FROM refresh_tokens WHERE lookup_sha = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare find refresh token by hash: %w", err)
	}

	s.stmtRevokeRefreshToken, err = s.db.Prepare(`
		UPDATE refresh_tokens SET revoked = true WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("prepare revoke refresh token: %w", err)
	}

	s.stmtCreateSigningKey, err = s.db.Prepare(`
		INSERT INTO signing_keys (id, user_id, public_key, created_at)
		VALUES ($1, $2, $3, $4)
	`)
	if err != nil {
		return fmt.Errorf("prepare create signing key: %w", err)
	}

	s.stmtLatestSigningKeyForUser, err = s.db.Prepare(`
		SELECT id, user_id, public_key, created_at
		FROM signing_keys WHERE user_id = $1
		ORDER BY created_at DESC LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("prepare latest signing key for user: %w", err)
	}

	return nil
}

// CreateAPIKey persists key, assigning an ID and CreatedAt if unset.
func (s *Store) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := s.stmtCreateAPIKey.ExecContext(ctx, key.ID, key.UserID, key.Prefix, key.ArgonHash, key.LookupSHA, pq.Array(key.Scopes), key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// FindAPIKeyByLookupHash returns the API key matching lookupSHA, or nil if
// none exists.
func (s *Store) FindAPIKeyByLookupHash(ctx context.Context, lookupSHA string) (*models.APIKey, error) {
	var k models.APIKey
	var lastUsed sql.NullTime
	err := s.stmtFindAPIKeyByLookupHash.QueryRowContext(ctx, lookupSHA).Scan(
		&k.ID, &k.UserID, &k.Prefix, &k.ArgonHash, &k.LookupSHA, pq.Array(&k.Scopes), &k.CreatedAt, &lastUsed, &k.Revoked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find api key by lookup hash: %w", err)
	}
	if lastUsed.Valid {
		k.LastUsedAt = &lastUsed.Time
	}
	return &k, nil
}

// TouchAPIKeyLastUsed updates the last-used timestamp for the key with id.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.stmtTouchAPIKeyLastUsed.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

// CreateDeviceCode persists a newly issued device-authorization grant.
func (s *Store) CreateDeviceCode(ctx context.Context, d *models.DeviceCode) error {
	_, err := s.stmtCreateDeviceCode.ExecContext(ctx, d.DeviceCode, d.UserCode, d.VerificationURI, d.Interval, d.ExpiresAt, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create device code: %w", err)
	}
	return nil
}

// GetDeviceCode returns the device-authorization grant for deviceCode.
func (s *Store) GetDeviceCode(ctx context.Context, deviceCode string) (*models.DeviceCode, error) {
	var d models.DeviceCode
	var userID sql.NullString
	err := s.stmtGetDeviceCode.QueryRowContext(ctx, deviceCode).Scan(
		&d.DeviceCode, &d.UserCode, &d.VerificationURI, &userID, &d.Bound, &d.Interval, &d.ExpiresAt, &d.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceCodeExpired
	}
	if err != nil {
		return nil, fmt.Errorf("get device code: %w", err)
	}
	d.UserID = userID.String
	return &d, nil
}

// BindUserCode binds userID to the device-authorization grant identified by
// userCode, the step a portal session performs once it authenticates the
// user who entered the code.
func (s *Store) BindUserCode(ctx context.Context, userCode, userID string) error {
	res, err := s.stmtBindUserCode.ExecContext(ctx, userCode, userID)
	if err != nil {
		return fmt.Errorf("bind user code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bind user code rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceCodeExpired
	}
	return nil
}

// CreateRefreshToken persists a newly issued refresh token, assigning an ID
// if unset.
func (s *Store) CreateRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	_, err := s.stmtCreateRefreshToken.ExecContext(ctx, rt.ID, rt.UserID, rt.LookupSHA, rt.ExpiresAt, rt.CreatedAt)
	if err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshTokenByLookupHash returns the refresh token matching
// lookupSHA, or nil if none exists.
func (s *Store) FindRefreshTokenByLookupHash(ctx context.Context, lookupSHA string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := s.stmtFindRefreshTokenByHash.QueryRowContext(ctx, lookupSHA).Scan(
		&rt.ID, &rt.UserID, &rt.LookupSHA, &rt.ExpiresAt, &rt.CreatedAt, &rt.Revoked,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find refresh token by lookup hash: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks the refresh token with id as revoked.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.stmtRevokeRefreshToken.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// CreateSigningKey persists a newly registered signing key, assigning an ID
// and CreatedAt if unset.
func (s *Store) CreateSigningKey(ctx context.Context, key *models.SigningKey) error {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}
	_, err := s.stmtCreateSigningKey.ExecContext(ctx, key.ID, key.UserID, key.PublicKey, key.CreatedAt)
	if err != nil {
		return fmt.Errorf("create signing key: %w", err)
	}
	return nil
}

// LatestSigningKeyFor returns the most recently registered signing key for
// userID, or nil if the user has none.
func (s *Store) LatestSigningKeyFor(ctx context.Context, userID string) (*models.SigningKey, error) {
	var key models.SigningKey
	err := s.stmtLatestSigningKeyForUser.QueryRowContext(ctx, userID).Scan(&key.ID, &key.UserID, &key.PublicKey, &key.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest signing key for user: %w", err)
	}
	return &key, nil
}

// Close releases the store's prepared statements.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.stmtCreateAPIKey, s.stmtFindAPIKeyByLookupHash, s.stmtTouchAPIKeyLastUsed,
		s.stmtCreateDeviceCode, s.stmtGetDeviceCode, s.stmtBindUserCode,
		s.stmtCreateRefreshToken, s.stmtFindRefreshTokenByHash, s.stmtRevokeRefreshToken,
		s.stmtCreateSigningKey, s.stmtLatestSigningKeyForUser,
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
	return errors.Join(errs...)
}
