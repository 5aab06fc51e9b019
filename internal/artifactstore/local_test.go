package artifactstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPutArtifactThenFetchLocalRoundTrips(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	key, err := s.PutArtifact(ctx, "comp-1", []byte("wasm bytes"))
	if err != nil {
		t.Fatalf("PutArtifact: %v", err)
	}
	if key != "comp-1.wasm" {
		t.Fatalf("expected storage key comp-1.wasm, got %s", key)
	}

	got, err := s.FetchLocal(ctx, key)
	if err != nil {
		t.Fatalf("FetchLocal: %v", err)
	}
	if string(got) != "wasm bytes" {
		t.Fatalf("expected round-tripped bytes, got %q", got)
	}
}

func TestFetchLocalMissingReturnsError(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.FetchLocal(context.Background(), "nonexistent.wasm"); err == nil {
		t.Fatal("expected an error fetching a key that was never stored")
	}
}

func TestPutSBOMEmptyIsNoop(t *testing.T) {
	root := t.TempDir()
	s := New(root)
	if err := s.PutSBOM(context.Background(), "comp-2", nil); err != nil {
		t.Fatalf("PutSBOM with empty data: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "comp-2.sbom.json")); err == nil {
		t.Fatal("expected no SBOM file written for empty data")
	}
}

func TestPutSBOMThenFetchSBOMRoundTrips(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	if err := s.PutSBOM(ctx, "comp-3", []byte(`{"bomFormat":"CycloneDX"}`)); err != nil {
		t.Fatalf("PutSBOM: %v", err)
	}
	got, err := s.FetchSBOM(ctx, "comp-3")
	if err != nil {
		t.Fatalf("FetchSBOM: %v", err)
	}
	if string(got) != `{"bomFormat":"CycloneDX"}` {
		t.Fatalf("unexpected SBOM contents: %s", got)
	}
}

func TestPutArtifactCreatesRootDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "artifacts")
	s := New(root)
	if _, err := s.PutArtifact(context.Background(), "comp-4", []byte("x")); err != nil {
		t.Fatalf("PutArtifact into nonexistent root: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected root directory to be created: %v", err)
	}
}

func TestPutArtifactOverwritesPreviousContents(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	if _, err := s.PutArtifact(ctx, "comp-5", []byte("first")); err != nil {
		t.Fatalf("first PutArtifact: %v", err)
	}
	key, err := s.PutArtifact(ctx, "comp-5", []byte("second"))
	if err != nil {
		t.Fatalf("second PutArtifact: %v", err)
	}
	got, err := s.FetchLocal(ctx, key)
	if err != nil {
		t.Fatalf("FetchLocal: %v", err)
	}
	if string(got) != "second" {
		t.Fatalf("expected overwritten contents, got %q", got)
	}
}

func TestComponentStorageKeyConvention(t *testing.T) {
	if got := ComponentStorageKey("abc-123"); got != "abc-123.wasm" {
		t.Fatalf("unexpected storage key: %s", got)
	}
}
