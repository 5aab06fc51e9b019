// Package artifactstore implements the local filesystem leg of the
// artifact trust pipeline's storage step (spec §4.9 step 6, §4.11): the
// published Wasm component bytes and optional SBOM, written under a
// single root directory and addressed by component ID. It satisfies
// internal/ingestion.ArtifactStore (the publish-side writer) and
// internal/scanworker.LocalFetcher (the scan-worker's read-side
// fallback before the OCI pull).
package artifactstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// componentExt and sbomExt are the on-disk suffixes for the two blobs a
// published version may have; storage keys are "<component_id><ext>".
const (
	componentExt = ".wasm"
	sbomExt      = ".sbom.json"
)

// LocalStore persists artifacts under Root, one file per component ID.
// Writes go through a temp-file-then-rename so a reader never observes a
// partially written blob, matching the atomic-replace idiom the wider
// example corpus uses for on-disk state.
type LocalStore struct {
	Root string
}

// New creates a LocalStore rooted at root. The directory is created
// lazily on first write rather than here.
func New(root string) *LocalStore {
	return &LocalStore{Root: root}
}

// ComponentStorageKey returns the storage key PutArtifact assigns a
// component's bytes, matching scanworker.ComponentStorageKey's
// "<component_id>.wasm" convention.
func ComponentStorageKey(componentID string) string {
	return componentID + componentExt
}

// PutArtifact writes the component's Wasm bytes and returns its storage
// key. Implements ingestion.ArtifactStore.
func (s *LocalStore) PutArtifact(ctx context.Context, componentID string, data []byte) (string, error) {
	key := ComponentStorageKey(componentID)
	if err := s.writeAtomic(key, data); err != nil {
		return "", err
	}
	return key, nil
}

// PutSBOM writes the component's optional SBOM document, a no-op when
// data is empty. Implements ingestion.ArtifactStore.
func (s *LocalStore) PutSBOM(ctx context.Context, componentID string, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return s.writeAtomic(componentID+sbomExt, data)
}

// FetchLocal reads the artifact for storageKey, if present under Root.
// Implements scanworker.LocalFetcher.
func (s *LocalStore) FetchLocal(ctx context.Context, storageKey string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, storageKey))
	if err != nil {
		return nil, fmt.Errorf("fetch local artifact %s: %w", storageKey, err)
	}
	return data, nil
}

// FetchSBOM reads the SBOM document for componentID, if one was stored.
func (s *LocalStore) FetchSBOM(ctx context.Context, componentID string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.Root, componentID+sbomExt))
	if err != nil {
		return nil, fmt.Errorf("fetch SBOM for %s: %w", componentID, err)
	}
	return data, nil
}

// writeAtomic creates Root if needed, writes data to a temp file beside
// the destination, then renames it into place.
func (s *LocalStore) writeAtomic(key string, data []byte) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("ensure artifact store root %s: %w", s.Root, err)
	}

	dest := filepath.Join(s.Root, key)
	tmp, err := os.CreateTemp(s.Root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename artifact %s into place: %w", key, err)
	}
	return nil
}
