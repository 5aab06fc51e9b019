package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/pkg/models"
)

var ErrNoSigningKey = errors.New("user has no registered signing key")

// SigningKeyStore persists users' registered Ed25519 signing public keys.
type SigningKeyStore interface {
	CreateSigningKey(ctx context.Context, key *models.SigningKey) error
	LatestSigningKeyFor(ctx context.Context, userID string) (*models.SigningKey, error)
}

// SigningKeyRegistry resolves a user's registered signing key for
// internal/ingestion, implementing its SigningKeys interface without that
// package depending on internal/auth's storage concerns.
type SigningKeyRegistry struct {
	Store SigningKeyStore
}

// RegisterSigningKey decodes and stores a base64-encoded Ed25519 public key
// for userID.
func (r *SigningKeyRegistry) RegisterSigningKey(ctx context.Context, userID, encodedPublicKey string) (*models.SigningKey, error) {
	pub, err := cryptoutil.DecodePublicKey(encodedPublicKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("signing public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}

	key := &models.SigningKey{
		UserID:    userID,
		PublicKey: []byte(pub),
	}
	if err := r.Store.CreateSigningKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store signing key: %w", err)
	}
	return key, nil
}

// PublicKeyFor implements internal/ingestion.SigningKeys: it resolves the
// most recently registered signing key for uploaderID.
func (r *SigningKeyRegistry) PublicKeyFor(ctx context.Context, uploaderID string) (ed25519.PublicKey, error) {
	key, err := r.Store.LatestSigningKeyFor(ctx, uploaderID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrNoSigningKey
	}
	return ed25519.PublicKey(key.PublicKey), nil
}
