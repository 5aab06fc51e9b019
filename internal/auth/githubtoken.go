package auth

import (
	"encoding/base64"
	"fmt"

	"github.com/env-architect/architect/internal/cryptoutil"
)

// GitHubTokenCipher encrypts and decrypts stored GitHub OAuth access
// tokens at rest with a server-wide AES-256-GCM key. Only the device-flow
// and GitHub OAuth-provider code paths that already hold a plaintext token
// in memory ever call Decrypt; the database only ever sees ciphertext.
type GitHubTokenCipher struct {
	key []byte
}

// NewGitHubTokenCipher builds a cipher from a 32-byte AES-256 key.
func NewGitHubTokenCipher(key []byte) (*GitHubTokenCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("github token encryption key must be 32 bytes, got %d", len(key))
	}
	return &GitHubTokenCipher{key: key}, nil
}

// Encrypt returns a base64-encoded, nonce-prefixed ciphertext safe to
// persist alongside a user record.
func (c *GitHubTokenCipher) Encrypt(token string) (string, error) {
	ciphertext, err := cryptoutil.EncryptAESGCM(c.key, []byte(token))
	if err != nil {
		return "", fmt.Errorf("encrypt github token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (c *GitHubTokenCipher) Decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode github token ciphertext: %w", err)
	}
	plaintext, err := cryptoutil.DecryptAESGCM(c.key, ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt github token: %w", err)
	}
	return string(plaintext), nil
}
