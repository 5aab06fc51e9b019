package trust

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/pkg/models"
)

type fakeFetcher struct {
	timestamp []byte
	snapshot  []byte
	targets   []byte
	artifact  []byte
}

func (f *fakeFetcher) FetchTimestamp(ctx context.Context) ([]byte, error) { return f.timestamp, nil }
func (f *fakeFetcher) FetchSnapshot(ctx context.Context) ([]byte, error)  { return f.snapshot, nil }
func (f *fakeFetcher) FetchTargets(ctx context.Context) ([]byte, error)   { return f.targets, nil }
func (f *fakeFetcher) FetchTarget(ctx context.Context, filename string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.artifact)), nil
}

// signedEnvelope marshals a document, signs the canonical JSON bytes with
// priv, and wraps it in the {signatures, signed} envelope shape served by
// the TUF endpoints.
func signedEnvelope(t *testing.T, keyID string, priv ed25519.PrivateKey, doc any) []byte {
	t.Helper()
	signed, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	sig := cryptoutil.Sign(priv, signed)
	envelope := struct {
		Signatures []models.TUFSignature `json:"signatures"`
		Signed     json.RawMessage       `json:"signed"`
	}{
		Signatures: []models.TUFSignature{{KeyID: keyID, Sig: base64.StdEncoding.EncodeToString(sig)}},
		Signed:     signed,
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func setup(t *testing.T) (*Verifier, *fakeFetcher, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	keyID := "key1"
	root := models.RootMetadata{
		Type:    "root",
		Version: 1,
		Expires: time.Now().Add(365 * 24 * time.Hour),
		Keys: map[string]models.RootKey{
			keyID: {KeyType: "ed25519", KeyVal: struct {
				Public string `json:"public"`
			}{Public: cryptoutil.EncodeKey(pub)}},
		},
		Roles: map[string]models.RoleKeyInfo{
			"timestamp": {KeyIDs: []string{keyID}, Threshold: 1},
			"snapshot":  {KeyIDs: []string{keyID}, Threshold: 1},
			"targets":   {KeyIDs: []string{keyID}, Threshold: 1},
		},
	}

	artifact := []byte("fake wasm component bytes")
	digest := cryptoutil.SHA256Hex(artifact)

	targetsDoc := models.TargetsMetadata{
		Type:    "targets",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Targets: map[string]models.TargetFileInfo{
			"tool-1.0.0.wasm": {Length: int64(len(artifact)), Hashes: map[string]string{"sha256": digest}},
		},
	}
	targetsBytes := signedEnvelope(t, keyID, priv, targetsDoc)

	snapshotDoc := models.SnapshotMetadata{
		Type:    "snapshot",
		Version: 1,
		Expires: time.Now().Add(24 * time.Hour),
		Meta:    map[string]models.MetaFileInfo{"targets.json": {Version: 1}},
	}
	snapshotBytes := signedEnvelope(t, keyID, priv, snapshotDoc)

	timestampDoc := models.TimestampMetadata{
		Type:    "timestamp",
		Version: 1,
		Expires: time.Now().Add(15 * time.Minute),
		Meta:    map[string]models.MetaFileInfo{"snapshot.json": {Version: 1}},
	}
	timestampBytes := signedEnvelope(t, keyID, priv, timestampDoc)

	fetcher := &fakeFetcher{
		timestamp: timestampBytes,
		snapshot:  snapshotBytes,
		targets:   targetsBytes,
		artifact:  artifact,
	}

	v := NewVerifier(root, fetcher, t.TempDir())
	return v, fetcher, priv
}

func TestVerifyAndDownloadSuccess(t *testing.T) {
	v, _, _ := setup(t)
	path, err := v.VerifyAndDownload(context.Background(), "tool-1.0.0.wasm")
	if err != nil {
		t.Fatalf("verify and download: %v", err)
	}
	data, err := readFile(path)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "fake wasm component bytes" {
		t.Fatalf("unexpected downloaded content: %q", data)
	}
}

func TestVerifyAndDownloadUnknownTarget(t *testing.T) {
	v, _, _ := setup(t)
	_, err := v.VerifyAndDownload(context.Background(), "missing.wasm")
	if err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestVerifyAndDownloadHashMismatchLeavesNoFile(t *testing.T) {
	v, fetcher, _ := setup(t)
	fetcher.artifact = []byte("tampered bytes that do not match the declared digest")

	path, err := v.VerifyAndDownload(context.Background(), "tool-1.0.0.wasm")
	if err == nil {
		t.Fatalf("expected hash mismatch error, got success at %s", path)
	}
	if exists(path) {
		t.Fatalf("expected no file left behind on hash mismatch")
	}
}

func TestVerifyAndDownloadRejectsBadSignature(t *testing.T) {
	v, fetcher, _ := setup(t)
	_, otherPriv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate other keypair: %v", err)
	}
	targetsDoc := models.TargetsMetadata{
		Type: "targets", Version: 2, Expires: time.Now().Add(24 * time.Hour),
		Targets: map[string]models.TargetFileInfo{},
	}
	fetcher.targets = signedEnvelope(t, "key1", otherPriv, targetsDoc)

	_, err = v.VerifyAndDownload(context.Background(), "tool-1.0.0.wasm")
	if err == nil {
		t.Fatal("expected signature verification failure")
	}
}

func TestVerifyAndDownloadRejectsExpiredMetadata(t *testing.T) {
	v, fetcher, priv := setup(t)
	expired := models.TimestampMetadata{
		Type: "timestamp", Version: 2, Expires: time.Now().Add(-time.Hour),
		Meta: map[string]models.MetaFileInfo{"snapshot.json": {Version: 1}},
	}
	fetcher.timestamp = signedEnvelope(t, "key1", priv, expired)

	_, err := v.VerifyAndDownload(context.Background(), "tool-1.0.0.wasm")
	if err == nil {
		t.Fatal("expected staleness failure")
	}
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
