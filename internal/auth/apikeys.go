package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/pkg/models"
)

var (
	ErrMalformedAPIKey = errors.New("malformed api key")
	ErrAPIKeyNotFound  = errors.New("api key not found")
	ErrAPIKeyRevoked   = errors.New("api key revoked")
)

const (
	apiKeyEntropyLen = 32
	apiKeyCRCLen     = 8
	alnumAlphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// APIKeyStore persists and looks up issued API keys (spec §4.13).
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	FindAPIKeyByLookupHash(ctx context.Context, lookupSHA string) (*models.APIKey, error)
	TouchAPIKeyLastUsed(ctx context.Context, id string) error
}

// GenerateAPIKey mints a new key for userID in the given environment
// ("live" or "test"), per spec §4.13's format:
// env_(live|test)_<32-char alnum entropy><8-char lowercase hex
// CRC32-of-entropy>. Only the Argon2id hash and a SHA-256 lookup index are
// persisted; the plaintext is returned once and never stored.
func GenerateAPIKey(userID, env string) (plaintext string, record *models.APIKey, err error) {
	if env != "live" && env != "test" {
		return "", nil, fmt.Errorf("api key environment must be \"live\" or \"test\", got %q", env)
	}

	entropy, err := randomAlnum(apiKeyEntropyLen)
	if err != nil {
		return "", nil, fmt.Errorf("generate api key entropy: %w", err)
	}
	checksum := cryptoutil.CRC32Hex([]byte(entropy))

	plaintext = fmt.Sprintf("env_%s_%s%s", env, entropy, checksum)

	argonHash, err := cryptoutil.HashArgon2id(plaintext, cryptoutil.DefaultArgon2Params())
	if err != nil {
		return "", nil, fmt.Errorf("hash api key: %w", err)
	}

	// Prefix is "env_live_" or "env_test_" plus the entropy's first 4
	// characters: enough for a user to recognize the key in a list
	// without reconstructing anything secret from it.
	const prefixLen = 4 + 4 + 1 + 4 // "env_" + env + "_" + 4 entropy chars
	record = &models.APIKey{
		UserID:    userID,
		Prefix:    plaintext[:prefixLen],
		ArgonHash: argonHash,
		LookupSHA: cryptoutil.SHA256Hex([]byte(plaintext)),
		CreatedAt: time.Now(),
	}
	return plaintext, record, nil
}

// checkAPIKeyFormat is step 1 of validation: format plus the embedded
// CRC32 self-check, performed without touching the store.
func checkAPIKeyFormat(key string) error {
	var env string
	switch {
	case strings.HasPrefix(key, "env_live_"):
		env = "live"
	case strings.HasPrefix(key, "env_test_"):
		env = "test"
	default:
		return ErrMalformedAPIKey
	}

	rest := strings.TrimPrefix(key, "env_"+env+"_")
	if len(rest) != apiKeyEntropyLen+apiKeyCRCLen {
		return ErrMalformedAPIKey
	}
	entropy, checksum := rest[:apiKeyEntropyLen], rest[apiKeyEntropyLen:]
	if checksum != cryptoutil.CRC32Hex([]byte(entropy)) {
		return ErrMalformedAPIKey
	}
	return nil
}

// ValidateAPIKey runs the two-step check spec §4.13 describes: a
// DB-free format and checksum check, then a lookup-hash query and
// Argon2id verification. A successful validation fires off a
// last-used-at update without blocking the caller on its result.
func ValidateAPIKey(ctx context.Context, store APIKeyStore, key string) (*models.APIKey, error) {
	if err := checkAPIKeyFormat(key); err != nil {
		return nil, err
	}

	rec, err := store.FindAPIKeyByLookupHash(ctx, cryptoutil.SHA256Hex([]byte(key)))
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrAPIKeyNotFound
	}
	if rec.Revoked {
		return nil, ErrAPIKeyRevoked
	}

	ok, err := cryptoutil.VerifyArgon2id(key, rec.ArgonHash)
	if err != nil {
		return nil, fmt.Errorf("verify api key hash: %w", err)
	}
	if !ok {
		return nil, ErrInvalidKey
	}

	go func() {
		_ = store.TouchAPIKeyLastUsed(context.WithoutCancel(ctx), rec.ID)
	}()

	return rec, nil
}

// randomAlnum returns a cryptographically random string of n characters
// drawn uniformly from alnumAlphabet, rejecting biased byte values rather
// than reducing modulo len(alphabet).
func randomAlnum(n int) (string, error) {
	const maxUnbiased = 256 - (256 % len(alnumAlphabet))
	out := make([]byte, 0, n)
	buf := make([]byte, 1)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		if int(buf[0]) >= maxUnbiased {
			continue
		}
		out = append(out, alnumAlphabet[int(buf[0])%len(alnumAlphabet)])
	}
	return string(out), nil
}
