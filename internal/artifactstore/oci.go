package artifactstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/env-architect/architect/internal/ociadapter"
)

// OCIFallback pulls an artifact from an OCI registry when it is absent
// from local storage (spec §4.11's fallback path), reconstructing a
// pullable reference from the scan worker's storage key convention.
// Implements scanworker.OCIFetcher.
type OCIFallback struct {
	Client     *ociadapter.Client
	Repository string // e.g. "registry.example.com/env-architect"
}

// FetchOCI strips the ".wasm" storage-key suffix to recover the
// component ID and pulls "<Repository>/<componentID>:latest".
func (f *OCIFallback) FetchOCI(ctx context.Context, storageKey string) ([]byte, error) {
	ref := f.buildRef(storageKey)

	result, err := f.Client.Pull(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("oci pull %s: %w", ref, err)
	}
	return result.ComponentBytes, nil
}

// buildRef reconstructs a pullable "<Repository>/<componentID>:latest"
// reference from a scan-worker storage key.
func (f *OCIFallback) buildRef(storageKey string) string {
	componentID := strings.TrimSuffix(storageKey, componentExt)
	return fmt.Sprintf("%s/%s:latest", strings.TrimSuffix(f.Repository, "/"), componentID)
}
