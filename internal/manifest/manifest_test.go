package manifest

import "testing"

const sampleJSON = `{
  "project": {"name": "demo", "version": "1.2.3"},
  "dependencies": {"node": {"version": "^20.0.0"}, "wildcard-tool": {"version": "*"}},
  "capabilities": ["ui-interact", {"fs-read": ["/project"]}],
  "profiles": {"ci": {"dependencies": ["dependencies", "dev-dependencies"]}},
  "dev-dependencies": {"lint-tool": {"version": "^1.0.0"}}
}`

func TestParseAndValidateJSON(t *testing.T) {
	m, err := Decode([]byte(sampleJSON), ".json")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Project.Name != "demo" {
		t.Fatalf("unexpected project name %q", m.Project.Name)
	}
	deps, err := Dependencies(m, "dependencies")
	if err != nil {
		t.Fatalf("dependencies: %v", err)
	}
	if _, ok := deps["node"]; !ok {
		t.Fatalf("expected node dependency")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	bad := `{"project": {"name": "demo", "version": "not-semver"}}`
	if _, err := Decode([]byte(bad), ".json"); err == nil {
		t.Fatalf("expected error for invalid project version")
	}
}

func TestValidateRejectsUnknownProfileReference(t *testing.T) {
	bad := `{
	  "project": {"name": "demo", "version": "1.0.0"},
	  "profiles": {"ci": {"dependencies": ["does-not-exist"]}}
	}`
	if _, err := Decode([]byte(bad), ".json"); err == nil {
		t.Fatalf("expected error for unknown profile bucket reference")
	}
}

func TestValidateRejectsUnknownCapability(t *testing.T) {
	bad := `{
	  "project": {"name": "demo", "version": "1.0.0"},
	  "capabilities": ["not-a-capability"]
	}`
	if _, err := Decode([]byte(bad), ".json"); err == nil {
		t.Fatalf("expected error for unknown capability")
	}
}

func TestEncodeDecodeRoundTripJSON(t *testing.T) {
	m, err := Decode([]byte(sampleJSON), ".json")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	encoded, err := Encode(m, ".json")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	roundTripped, err := Decode(encoded, ".json")
	if err != nil {
		t.Fatalf("decode round-tripped: %v", err)
	}
	if roundTripped.Project.Version != m.Project.Version {
		t.Fatalf("round trip changed project version: got %q want %q", roundTripped.Project.Version, m.Project.Version)
	}
}

func TestWildcardRequirementAccepted(t *testing.T) {
	m, err := Decode([]byte(sampleJSON), ".json")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.Dependencies["wildcard-tool"].Version != "*" {
		t.Fatalf("expected wildcard requirement to survive parsing")
	}
}
