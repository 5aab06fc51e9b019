package ociadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	godigest "github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
)

// PushRequest is one component's artifact bytes, as assembled by
// internal/ingestion after a successful publish.
type PushRequest struct {
	// ConfigJSON is the component metadata blob (name, version, purl,
	// dependency summary) stored under MediaTypeConfig.
	ConfigJSON []byte
	// ComponentBytes is the Wasm component binary.
	ComponentBytes []byte
	// SBOMBytes is the optional software-bill-of-materials blob.
	SBOMBytes []byte
	// SourceRepo, if set, is recorded as the manifest's
	// org.opencontainers.image.source annotation.
	SourceRepo string
}

// PushResult reports the digest of the manifest that was tagged.
type PushResult struct {
	Digest string
}

// pushTo pushes req's blobs and a manifest referencing them to target,
// tagging the result as tag.
func pushTo(ctx context.Context, target oras.Target, req PushRequest, tag string) (*PushResult, error) {
	configDesc := ocispec.Descriptor{
		MediaType: MediaTypeConfig,
		Digest:    godigest.FromBytes(req.ConfigJSON),
		Size:      int64(len(req.ConfigJSON)),
	}
	if err := target.Push(ctx, configDesc, bytes.NewReader(req.ConfigJSON)); err != nil {
		return nil, fmt.Errorf("pushing config blob: %w", err)
	}

	layers := []ocispec.Descriptor{}

	componentDesc := ocispec.Descriptor{
		MediaType: MediaTypeComponent,
		Digest:    godigest.FromBytes(req.ComponentBytes),
		Size:      int64(len(req.ComponentBytes)),
	}
	if err := target.Push(ctx, componentDesc, bytes.NewReader(req.ComponentBytes)); err != nil {
		return nil, fmt.Errorf("pushing component layer: %w", err)
	}
	layers = append(layers, componentDesc)

	if len(req.SBOMBytes) > 0 {
		sbomDesc := ocispec.Descriptor{
			MediaType: MediaTypeSBOM,
			Digest:    godigest.FromBytes(req.SBOMBytes),
			Size:      int64(len(req.SBOMBytes)),
		}
		if err := target.Push(ctx, sbomDesc, bytes.NewReader(req.SBOMBytes)); err != nil {
			return nil, fmt.Errorf("pushing sbom layer: %w", err)
		}
		layers = append(layers, sbomDesc)
	}

	annotations := buildAnnotations(req.ConfigJSON, tag, req.SourceRepo)

	manifest := ocispec.Manifest{
		Versioned:   specs.Versioned{SchemaVersion: 2},
		MediaType:   ocispec.MediaTypeImageManifest,
		Config:      configDesc,
		Layers:      layers,
		Annotations: annotations,
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}
	manifestDesc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    godigest.FromBytes(manifestJSON),
		Size:      int64(len(manifestJSON)),
	}
	if err := target.Push(ctx, manifestDesc, bytes.NewReader(manifestJSON)); err != nil {
		return nil, fmt.Errorf("pushing manifest: %w", err)
	}
	if err := target.Tag(ctx, manifestDesc, tag); err != nil {
		return nil, fmt.Errorf("tagging manifest as %s: %w", tag, err)
	}

	return &PushResult{Digest: manifestDesc.Digest.String()}, nil
}

// buildAnnotations extracts standard OCI annotations from a component's
// config JSON blob. The title and description come from the config blob;
// the version always comes from the OCI tag, never the config, since the
// tag is the source of truth for what was actually published.
func buildAnnotations(configJSON []byte, tag, sourceRepo string) map[string]string {
	var fields struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	_ = json.Unmarshal(configJSON, &fields)

	annotations := make(map[string]string)
	if fields.Name != "" {
		annotations[ocispec.AnnotationTitle] = fields.Name
	}
	if fields.Description != "" {
		annotations[ocispec.AnnotationDescription] = fields.Description
	}
	if tag != "" {
		annotations[ocispec.AnnotationVersion] = tag
	}
	if sourceRepo != "" {
		annotations[ocispec.AnnotationSource] = sourceRepo
	}
	if len(annotations) == 0 {
		return nil
	}
	return annotations
}
