// Package ociadapter distributes trust-pipeline artifacts over the OCI
// Distribution Specification (spec §4.11), adapted from
// giantswarm-klaus-oci's ORAS-based push/pull/client/auth split and
// retargeted at the media types a Wasm component registry actually needs.
package ociadapter

// Media types for env-architect component artifacts (spec §6). The config
// blob carries the component's registry metadata; the two optional layers
// carry the component binary itself and its SBOM.
const (
	// MediaTypeConfig is the OCI media type for the component's metadata
	// config blob (component name, version, purl, dependency summary).
	MediaTypeConfig = "application/vnd.env-architect.metadata.v1+json"

	// MediaTypeComponent is the OCI media type for the Wasm component
	// binary layer.
	MediaTypeComponent = "application/vnd.w3c.wasm.component.v1+wasm"

	// MediaTypeSBOM is the OCI media type for the optional
	// software-bill-of-materials layer.
	MediaTypeSBOM = "application/vnd.env-architect.sbom.v1+json"

	// MediaTypeWasmConfig is the OCI media type used for the image-level
	// config descriptor when a component is pushed without a richer
	// env-architect metadata blob (e.g. ingested directly from an
	// upstream ecosystem mirror).
	MediaTypeWasmConfig = "application/vnd.wasm.config.v0+json"
)
