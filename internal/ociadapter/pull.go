package ociadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
)

// PullResult is a fetched component's bytes and manifest digest.
type PullResult struct {
	Digest         string
	ConfigJSON     []byte
	ComponentBytes []byte
	SBOMBytes      []byte
}

// pullFrom resolves tag on target and fetches its config, component, and
// (if present) SBOM blobs.
func pullFrom(ctx context.Context, target oras.Target, tag string) (*PullResult, error) {
	manifestDesc, err := target.Resolve(ctx, tag)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", tag, err)
	}

	manifestRC, err := target.Fetch(ctx, manifestDesc)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", tag, err)
	}
	defer manifestRC.Close()

	var manifest ocispec.Manifest
	if err := json.NewDecoder(manifestRC).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("parsing manifest for %s: %w", tag, err)
	}

	configJSON, err := fetchBlob(ctx, target, manifest.Config)
	if err != nil {
		return nil, fmt.Errorf("fetching config for %s: %w", tag, err)
	}

	result := &PullResult{
		Digest:     manifestDesc.Digest.String(),
		ConfigJSON: configJSON,
	}

	for _, layer := range manifest.Layers {
		switch layer.MediaType {
		case MediaTypeComponent:
			result.ComponentBytes, err = fetchBlob(ctx, target, layer)
			if err != nil {
				return nil, fmt.Errorf("fetching component layer for %s: %w", tag, err)
			}
		case MediaTypeSBOM:
			result.SBOMBytes, err = fetchBlob(ctx, target, layer)
			if err != nil {
				return nil, fmt.Errorf("fetching sbom layer for %s: %w", tag, err)
			}
		}
	}

	if result.ComponentBytes == nil {
		return nil, fmt.Errorf("no component layer found in %s (expected media type %s)", tag, MediaTypeComponent)
	}

	return result, nil
}

func fetchBlob(ctx context.Context, target oras.Target, desc ocispec.Descriptor) ([]byte, error) {
	rc, err := target.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
