// Package cryptoutil provides the signing, hashing, and encryption
// primitives shared across the trust pipeline: Ed25519 sign/verify,
// SHA-256 content hashing, Argon2id password/API-key hashing, AES-256-GCM
// encryption at rest, and CRC32 self-check checksums.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"

	"golang.org/x/crypto/argon2"
)

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key pair: %w", err)
	}
	return pub, priv, nil
}

// Sign signs data with an Ed25519 private key and returns the raw
// signature bytes.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify reports whether sig is a valid Ed25519 signature over data under
// pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// SHA256Hex returns the lowercase hex-encoded SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Streaming computes a SHA-256 digest incrementally; callers feed
// bytes via Write and read the final digest via SumHex. Used by the
// trust-fetch download path to verify a target's digest without buffering
// the whole artifact in memory twice.
type SHA256Streaming struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// NewSHA256Streaming creates an incremental SHA-256 hasher.
func NewSHA256Streaming() *SHA256Streaming {
	return &SHA256Streaming{h: sha256.New()}
}

func (s *SHA256Streaming) Write(p []byte) (int, error) { return s.h.Write(p) }

// SumHex returns the lowercase hex-encoded digest of everything written so
// far.
func (s *SHA256Streaming) SumHex() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

// EncodeKey base64-encodes a raw key (public or private).
func EncodeKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodePublicKey decodes a base64-encoded Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: %d", len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// DecodePrivateKey decodes a base64-encoded Ed25519 private key.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// Argon2Params are the cost parameters used for Argon2id hashing. Chosen
// per the OWASP baseline recommendation for interactive hashing.
type Argon2Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params returns the Argon2id cost parameters used for API
// key and password storage.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Time: 1, Memory: 64 * 1024, Threads: 4, KeyLen: 32, SaltLen: 16}
}

// HashArgon2id hashes plaintext with a freshly generated salt and returns
// an encoded string carrying the parameters and salt alongside the hash,
// e.g. "$argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>".
func HashArgon2id(plaintext string, p Argon2Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(plaintext), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// VerifyArgon2id reports whether plaintext matches an encoded hash
// produced by HashArgon2id.
func VerifyArgon2id(plaintext, encoded string) (bool, error) {
	var memory, time uint32
	var threads uint8
	var saltB64, hashB64 string
	n, err := fmt.Sscanf(encoded, "$argon2id$v=19$m=%d,t=%d,p=%d$%s", &memory, &time, &threads, &saltB64)
	_ = n
	if err != nil {
		return false, fmt.Errorf("parse argon2id hash: %w", err)
	}
	parts := splitFields(encoded)
	if len(parts) != 6 {
		return false, fmt.Errorf("malformed argon2id hash")
	}
	saltB64, hashB64 = parts[4], parts[5]
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(hashB64)
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}
	got := argon2.IDKey([]byte(plaintext), salt, time, memory, threads, uint32(len(want)))
	if len(got) != len(want) {
		return false, nil
	}
	var diff byte
	for i := range got {
		diff |= got[i] ^ want[i]
	}
	return diff == 0, nil
}

func splitFields(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// CRC32Hex returns the lowercase 8-char hex-encoded IEEE CRC32 checksum of
// data, used for the API key format's embedded self-check.
func CRC32Hex(data []byte) string {
	return fmt.Sprintf("%08x", crc32.ChecksumIEEE(data))
}

// EncryptAESGCM encrypts plaintext with AES-256-GCM under key, generating
// a fresh nonce and prefixing it to the ciphertext.
func EncryptAESGCM(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptAESGCM reverses EncryptAESGCM: it reads the nonce prefix and
// decrypts the remainder.
func DecryptAESGCM(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
