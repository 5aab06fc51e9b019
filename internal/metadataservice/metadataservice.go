// Package metadataservice is the producing side of the TUF metadata chain
// internal/trust consumes (spec §4.10): it folds the registry's approved
// component catalog into a targets document, then wraps snapshot and
// timestamp documents referencing it, each signed with the server's
// Ed25519 root key.
package metadataservice

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/env-architect/architect/internal/cryptoutil"
	"github.com/env-architect/architect/internal/registry"
	"github.com/env-architect/architect/pkg/models"
)

const (
	targetsTTL   = 24 * time.Hour
	snapshotTTL  = 24 * time.Hour
	timestampTTL = 15 * time.Minute
)

// ComponentLister is the subset of internal/registry.Repository the
// signing service needs: the catalog of artifacts eligible for inclusion
// in the next targets.json.
type ComponentLister interface {
	ListTargetableComponents(ctx context.Context) ([]registry.TargetableComponent, error)
}

// Signer wraps a TUF role document in a signed envelope using the
// registry's root Ed25519 key.
type Signer struct {
	KeyID      string
	PrivateKey ed25519.PrivateKey
}

// Sign marshals doc and wraps it in a SignedMetadata envelope signed over
// that exact byte encoding. internal/trust's verifyRole re-derives the
// signed payload the same way (a single json.Marshal of the "signed"
// field), so the two must never diverge.
func (s Signer) Sign(doc any) (models.SignedMetadata, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return models.SignedMetadata{}, fmt.Errorf("marshal signed payload: %w", err)
	}
	sig := cryptoutil.Sign(s.PrivateKey, payload)
	return models.SignedMetadata{
		Signatures: []models.TUFSignature{{
			KeyID: s.KeyID,
			Sig:   cryptoutil.EncodeKey(sig),
		}},
		Signed: doc,
	}, nil
}

// VersionCounters tracks the last-issued version number per TUF role, so
// every generated document's version is strictly greater than its
// predecessor's, as TUF requires. Counters live for the process lifetime
// of the signing service; a deployment that restarts the service between
// refreshes must seed it from the last version it actually served (e.g.
// by reading back the live timestamp.json at startup) rather than
// resetting to zero.
type VersionCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewVersionCounters returns a VersionCounters starting every role at 0,
// so the first Next call for a role returns 1.
func NewVersionCounters() *VersionCounters {
	return &VersionCounters{values: map[string]int64{}}
}

// Seed sets role's last-issued version, so the next Next call returns
// version+1. Used to resume numbering after a restart.
func (v *VersionCounters) Seed(role string, version int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[role] = version
}

// Next returns the next strictly increasing version number for role.
func (v *VersionCounters) Next(role string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.values[role]++
	return v.values[role]
}

// RefreshedMetadata bundles the three signed role documents produced by
// one refresh cycle, ready to be served from /tuf/{targets,snapshot,
// timestamp}.json (spec §6).
type RefreshedMetadata struct {
	Targets   models.SignedMetadata
	Snapshot  models.SignedMetadata
	Timestamp models.SignedMetadata
}

// Service generates and signs the TUF metadata chain.
type Service struct {
	Components ComponentLister
	Signer     Signer
	Versions   *VersionCounters
	// Now overrides the clock for tests; nil uses time.Now.
	Now func() time.Time
}

func (s *Service) clock() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// GenerateTargets builds and signs targets.json: one entry per approved,
// non-yanked component, named "<name>-<version>.wasm" and carrying its
// declared SHA-256 and size (spec §4.10).
func (s *Service) GenerateTargets(ctx context.Context) (models.SignedMetadata, models.TargetsMetadata, error) {
	components, err := s.Components.ListTargetableComponents(ctx)
	if err != nil {
		return models.SignedMetadata{}, models.TargetsMetadata{}, fmt.Errorf("list targetable components: %w", err)
	}

	targets := make(map[string]models.TargetFileInfo, len(components))
	for _, c := range components {
		filename := fmt.Sprintf("%s-%s.wasm", c.Name, c.Version)
		targets[filename] = models.TargetFileInfo{
			Length: c.Size,
			Hashes: map[string]string{"sha256": c.SHA256},
		}
	}

	doc := models.TargetsMetadata{
		Type:    "targets",
		Version: s.Versions.Next("targets"),
		Expires: s.clock().Add(targetsTTL),
		Targets: targets,
	}
	signed, err := s.Signer.Sign(doc)
	if err != nil {
		return models.SignedMetadata{}, models.TargetsMetadata{}, fmt.Errorf("sign targets: %w", err)
	}
	return signed, doc, nil
}

// GenerateSnapshot wraps the already-signed targets envelope: it records
// targets.json's own version, byte length, and SHA-256 so a client can
// detect tampering or a stale targets fetch before trusting it.
func (s *Service) GenerateSnapshot(targetsEnvelope models.SignedMetadata, targetsDoc models.TargetsMetadata) (models.SignedMetadata, models.SnapshotMetadata, error) {
	targetsBytes, err := json.Marshal(targetsEnvelope)
	if err != nil {
		return models.SignedMetadata{}, models.SnapshotMetadata{}, fmt.Errorf("marshal targets envelope: %w", err)
	}

	doc := models.SnapshotMetadata{
		Type:    "snapshot",
		Version: s.Versions.Next("snapshot"),
		Expires: s.clock().Add(snapshotTTL),
		Meta: map[string]models.MetaFileInfo{
			"targets.json": {
				Version: targetsDoc.Version,
				Length:  int64(len(targetsBytes)),
				Hashes:  map[string]string{"sha256": cryptoutil.SHA256Hex(targetsBytes)},
			},
		},
	}
	signed, err := s.Signer.Sign(doc)
	if err != nil {
		return models.SignedMetadata{}, models.SnapshotMetadata{}, fmt.Errorf("sign snapshot: %w", err)
	}
	return signed, doc, nil
}

// GenerateTimestamp wraps the already-signed snapshot envelope the same
// way GenerateSnapshot wraps targets. Its expiry is short (15 minutes per
// spec §4.10) since it is the freshness anchor clients check first.
func (s *Service) GenerateTimestamp(snapshotEnvelope models.SignedMetadata, snapshotDoc models.SnapshotMetadata) (models.SignedMetadata, models.TimestampMetadata, error) {
	snapshotBytes, err := json.Marshal(snapshotEnvelope)
	if err != nil {
		return models.SignedMetadata{}, models.TimestampMetadata{}, fmt.Errorf("marshal snapshot envelope: %w", err)
	}

	doc := models.TimestampMetadata{
		Type:    "timestamp",
		Version: s.Versions.Next("timestamp"),
		Expires: s.clock().Add(timestampTTL),
		Meta: map[string]models.MetaFileInfo{
			"snapshot.json": {
				Version: snapshotDoc.Version,
				Length:  int64(len(snapshotBytes)),
				Hashes:  map[string]string{"sha256": cryptoutil.SHA256Hex(snapshotBytes)},
			},
		},
	}
	signed, err := s.Signer.Sign(doc)
	if err != nil {
		return models.SignedMetadata{}, models.TimestampMetadata{}, fmt.Errorf("sign timestamp: %w", err)
	}
	return signed, doc, nil
}

// RefreshAll runs the full targets -> snapshot -> timestamp generation
// chain and returns all three signed envelopes, the unit of work a
// periodic background refresh loop or an on-publish trigger performs.
func (s *Service) RefreshAll(ctx context.Context) (RefreshedMetadata, error) {
	targetsEnvelope, targetsDoc, err := s.GenerateTargets(ctx)
	if err != nil {
		return RefreshedMetadata{}, err
	}
	snapshotEnvelope, snapshotDoc, err := s.GenerateSnapshot(targetsEnvelope, targetsDoc)
	if err != nil {
		return RefreshedMetadata{}, err
	}
	timestampEnvelope, _, err := s.GenerateTimestamp(snapshotEnvelope, snapshotDoc)
	if err != nil {
		return RefreshedMetadata{}, err
	}
	return RefreshedMetadata{
		Targets:   targetsEnvelope,
		Snapshot:  snapshotEnvelope,
		Timestamp: timestampEnvelope,
	}, nil
}
