// Package trust implements the TUF-style metadata refresh chain and
// content-verified target download described in spec §4.3: root ->
// timestamp -> snapshot -> targets, then a streamed, hash-checked fetch of
// one named artifact.
package trust

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/env-architect/architect/internal/backoff"
	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/net/ssrf"
	"github.com/env-architect/architect/pkg/models"
)

// metadataFetchAttempts bounds retries of a transient metadata/target GET
// (connection reset, 5xx) before the fetch gives up and reports the error
// up to the refresh chain.
const metadataFetchAttempts = 3

// Failure modes propagated by the trust fetch, per spec §4.3/§7.
var (
	ErrMetadataStale   = errors.New("metadata stale")
	ErrSignatureInvalid = errors.New("signature invalid")
	ErrTargetMissing    = errors.New("target missing")
	ErrHashMismatch     = errors.New("hash mismatch")
)

// MetadataFetcher retrieves the raw bytes of one TUF role document
// (timestamp.json, snapshot.json, targets.json) and streams one target's
// bytes. In production this talks to the registry's TUF HTTP endpoints
// (spec §6); tests substitute an in-memory fake.
type MetadataFetcher interface {
	FetchTimestamp(ctx context.Context) ([]byte, error)
	FetchSnapshot(ctx context.Context) ([]byte, error)
	FetchTargets(ctx context.Context) ([]byte, error)
	FetchTarget(ctx context.Context, filename string) (io.ReadCloser, error)
}

// Verifier is the one public trust-fetch operation: VerifyAndDownload.
type Verifier struct {
	root       models.RootMetadata
	fetcher    MetadataFetcher
	cacheDir   string
	now        func() time.Time
	lastVers   versions
}

type versions struct {
	timestamp int64
	snapshot  int64
	targets   int64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier constructs a Verifier. root is loaded from disk by the
// caller (never over the network; root rotation is operator-driven per
// spec §4.3 step 1) and cacheDir is where verified targets are written.
func NewVerifier(root models.RootMetadata, fetcher MetadataFetcher, cacheDir string, opts ...Option) *Verifier {
	v := &Verifier{root: root, fetcher: fetcher, cacheDir: cacheDir, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// LoadRootFromDisk reads and parses the pinned root metadata document from
// path.
func LoadRootFromDisk(path string) (models.RootMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.RootMetadata{}, fmt.Errorf("read root metadata: %w", err)
	}
	var root models.RootMetadata
	if err := json.Unmarshal(data, &root); err != nil {
		return models.RootMetadata{}, fmt.Errorf("parse root metadata: %w", err)
	}
	return root, nil
}

// refresh walks the chain root -> timestamp -> snapshot -> targets,
// verifying signatures, freshness, and version monotonicity at each step.
func (v *Verifier) refresh(ctx context.Context) (models.TargetsMetadata, error) {
	tsBytes, err := v.fetcher.FetchTimestamp(ctx)
	if err != nil {
		return models.TargetsMetadata{}, fmt.Errorf("fetch timestamp: %w", err)
	}
	var timestamp models.SignedMetadata
	var timestampDoc models.TimestampMetadata
	if err := v.verifyRole("timestamp", tsBytes, &timestamp, &timestampDoc); err != nil {
		return models.TargetsMetadata{}, err
	}
	if err := v.checkFreshnessAndVersion("timestamp", timestampDoc.Expires, timestampDoc.Version, &v.lastVers.timestamp); err != nil {
		return models.TargetsMetadata{}, err
	}

	snapBytes, err := v.fetcher.FetchSnapshot(ctx)
	if err != nil {
		return models.TargetsMetadata{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	var snapshot models.SignedMetadata
	var snapshotDoc models.SnapshotMetadata
	if err := v.verifyRole("snapshot", snapBytes, &snapshot, &snapshotDoc); err != nil {
		return models.TargetsMetadata{}, err
	}
	if err := v.checkFreshnessAndVersion("snapshot", snapshotDoc.Expires, snapshotDoc.Version, &v.lastVers.snapshot); err != nil {
		return models.TargetsMetadata{}, err
	}
	if meta, ok := timestampDoc.Meta["snapshot.json"]; ok && meta.Version != snapshotDoc.Version {
		return models.TargetsMetadata{}, fmt.Errorf("%w: timestamp references snapshot version %d, got %d", ErrMetadataStale, meta.Version, snapshotDoc.Version)
	}

	targetsBytes, err := v.fetcher.FetchTargets(ctx)
	if err != nil {
		return models.TargetsMetadata{}, fmt.Errorf("fetch targets: %w", err)
	}
	var targetsSigned models.SignedMetadata
	var targetsDoc models.TargetsMetadata
	if err := v.verifyRole("targets", targetsBytes, &targetsSigned, &targetsDoc); err != nil {
		return models.TargetsMetadata{}, err
	}
	if err := v.checkFreshnessAndVersion("targets", targetsDoc.Expires, targetsDoc.Version, &v.lastVers.targets); err != nil {
		return models.TargetsMetadata{}, err
	}
	if meta, ok := snapshotDoc.Meta["targets.json"]; ok && meta.Version != targetsDoc.Version {
		return models.TargetsMetadata{}, fmt.Errorf("%w: snapshot references targets version %d, got %d", ErrMetadataStale, meta.Version, targetsDoc.Version)
	}

	return targetsDoc, nil
}

func (v *Verifier) checkFreshnessAndVersion(role string, expires time.Time, version int64, last *int64) error {
	if v.now().After(expires) {
		return fmt.Errorf("%w: %s expired at %s", ErrMetadataStale, role, expires)
	}
	if version < *last {
		return fmt.Errorf("%w: %s version %d is not monotonic (last %d)", ErrMetadataStale, role, version, *last)
	}
	*last = version
	return nil
}

// verifyRole unmarshals a SignedMetadata envelope, re-marshals the signed
// payload canonically, and checks it against the role's keyid/threshold
// from the root document.
func (v *Verifier) verifyRole(role string, raw []byte, envelope *models.SignedMetadata, doc any) error {
	var generic struct {
		Signatures []models.TUFSignature `json:"signatures"`
		Signed     json.RawMessage        `json:"signed"`
	}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("parse %s envelope: %w", role, err)
	}
	if err := json.Unmarshal(generic.Signed, doc); err != nil {
		return fmt.Errorf("parse %s document: %w", role, err)
	}
	envelope.Signatures = generic.Signatures
	envelope.Signed = doc

	roleInfo, ok := v.root.Roles[role]
	if !ok {
		return fmt.Errorf("%w: root metadata declares no role %q", ErrSignatureInvalid, role)
	}

	valid := 0
	authorized := make(map[string]bool, len(roleInfo.KeyIDs))
	for _, id := range roleInfo.KeyIDs {
		authorized[id] = true
	}
	for _, sig := range generic.Signatures {
		if !authorized[sig.KeyID] {
			continue
		}
		key, ok := v.root.Keys[sig.KeyID]
		if !ok {
			continue
		}
		pub, err := cryptoutil.DecodePublicKey(key.KeyVal.Public)
		if err != nil {
			continue
		}
		sigBytes, err := decodeSig(sig.Sig)
		if err != nil {
			continue
		}
		if ed25519.Verify(pub, generic.Signed, sigBytes) {
			valid++
		}
	}
	if valid < roleInfo.Threshold {
		return fmt.Errorf("%w: %s has %d valid signatures, threshold %d", ErrSignatureInvalid, role, valid, roleInfo.Threshold)
	}
	return nil
}

func decodeSig(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// VerifyAndDownload is the trust pipeline's single public operation (spec
// §4.3): it refreshes the metadata chain, locates targetName in the
// targets document, streams it from the registry, verifies its SHA-256
// incrementally, and writes it to <cache>/targets/<filename> only once
// fully verified.
func (v *Verifier) VerifyAndDownload(ctx context.Context, targetName string) (string, error) {
	targets, err := v.refresh(ctx)
	if err != nil {
		return "", err
	}

	info, ok := targets.Targets[targetName]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrTargetMissing, targetName)
	}
	wantHash, ok := info.Hashes["sha256"]
	if !ok {
		return "", fmt.Errorf("%w: %s has no sha256 digest declared", ErrTargetMissing, targetName)
	}

	body, err := v.fetcher.FetchTarget(ctx, targetName)
	if err != nil {
		return "", fmt.Errorf("fetch target %s: %w", targetName, err)
	}
	defer body.Close()

	targetDir := filepath.Join(v.cacheDir, "targets")
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target cache dir: %w", err)
	}
	finalPath := filepath.Join(targetDir, targetName)
	tmp, err := os.CreateTemp(targetDir, ".download-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp download file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := cryptoutil.NewSHA256Streaming()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), body)
	if err != nil {
		cleanup()
		return "", fmt.Errorf("stream target %s: %w", targetName, err)
	}
	if written != info.Length {
		cleanup()
		return "", fmt.Errorf("%w: %s expected %d bytes, got %d", ErrHashMismatch, targetName, info.Length, written)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("close temp download file: %w", err)
	}
	if hasher.SumHex() != wantHash {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %s expected sha256 %s, got %s", ErrHashMismatch, targetName, wantHash, hasher.SumHex())
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("rename downloaded target into place: %w", err)
	}
	return finalPath, nil
}

// HTTPFetcher is the production MetadataFetcher, talking to the registry's
// TUF endpoints (spec §6: GET /tuf/{targets,snapshot,timestamp}.json) and
// its target download endpoint.
type HTTPFetcher struct {
	BaseURL    string
	TargetsURL string
	Client     *http.Client
}

// NewHTTPFetcher validates baseURL against SSRF-prone hosts before
// constructing the fetcher, since the registry endpoint is often
// operator-configured.
func NewHTTPFetcher(baseURL, targetsURL string, client *http.Client) (*HTTPFetcher, error) {
	for _, raw := range []string{baseURL, targetsURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint %q: %w", raw, err)
		}
		if err := ssrf.ValidatePublicHostname(u.Hostname()); err != nil {
			return nil, fmt.Errorf("endpoint %q rejected: %w", raw, err)
		}
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{BaseURL: baseURL, TargetsURL: targetsURL, Client: client}, nil
}

func (f *HTTPFetcher) FetchTimestamp(ctx context.Context) ([]byte, error) {
	return f.get(ctx, f.BaseURL+"/tuf/timestamp.json")
}

func (f *HTTPFetcher) FetchSnapshot(ctx context.Context) ([]byte, error) {
	return f.get(ctx, f.BaseURL+"/tuf/snapshot.json")
}

func (f *HTTPFetcher) FetchTargets(ctx context.Context) ([]byte, error) {
	return f.get(ctx, f.BaseURL+"/tuf/targets.json")
}

func (f *HTTPFetcher) FetchTarget(ctx context.Context, filename string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.TargetsURL+"/"+filename, nil)
	if err != nil {
		return nil, fmt.Errorf("build target request: %w", err)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch target: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch target %s: unexpected status %d", filename, resp.StatusCode)
	}
	return resp.Body, nil
}

func (f *HTTPFetcher) get(ctx context.Context, u string) ([]byte, error) {
	return backoff.RetryFunc(ctx, metadataFetchAttempts, func(attempt int) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		resp, err := f.Client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request %s: %w", u, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("request %s: unexpected status %d", u, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
}
