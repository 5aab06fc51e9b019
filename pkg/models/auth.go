package models

import "time"

// User is a registry account, created on first OAuth login or API-key
// issuance.
type User struct {
	ID        string    `json:"id"`
	Login     string    `json:"login"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeviceCode is a pending OAuth device-flow authorization, per RFC 8628.
type DeviceCode struct {
	DeviceCode      string    `json:"deviceCode"`
	UserCode        string    `json:"userCode"`
	VerificationURI string    `json:"verificationUri"`
	UserID          string    `json:"userId,omitempty"`
	Bound           bool      `json:"bound"`
	Interval        int       `json:"interval"`
	ExpiresAt       time.Time `json:"expiresAt"`
	CreatedAt       time.Time `json:"createdAt"`
}

// RefreshToken is a long-lived opaque credential, stored as a SHA-256
// lookup hash so the plaintext token is never persisted.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	LookupSHA string    `json:"-"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
	Revoked   bool      `json:"revoked"`
}

// APIKey is a registry API credential: the entropy is never stored, only
// an Argon2id hash for validation and a SHA-256 lookup index.
type APIKey struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	Prefix     string     `json:"prefix"`
	ArgonHash  string     `json:"-"`
	LookupSHA  string     `json:"-"`
	Scopes     []string   `json:"scopes,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
	Revoked    bool       `json:"revoked"`
}

// SigningKey is a user-registered Ed25519 public key used to verify
// artifact uploads.
type SigningKey struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	PublicKey []byte    `json:"publicKey"`
	CreatedAt time.Time `json:"createdAt"`
}
