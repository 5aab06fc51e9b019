package capability

import (
	"encoding/json"
	"testing"
)

func TestParseBareAndScoped(t *testing.T) {
	raw := json.RawMessage(`["ui-interact", {"fs-read": ["/project", "/tmp/cache"]}]`)
	set, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !set.Allows(KindUIInteract, "anything") {
		t.Fatalf("expected unrestricted ui-interact grant to allow any resource")
	}
	if !set.Allows(KindFSRead, "/project/src/main.go") {
		t.Fatalf("expected descendant path to be allowed")
	}
	if set.Allows(KindFSRead, "/etc/passwd") {
		t.Fatalf("expected path outside allow-list to be denied")
	}
	if set.Allows(KindFSWrite, "/project/src/main.go") {
		t.Fatalf("expected ungranted capability kind to be denied")
	}
}

func TestParseObjectShape(t *testing.T) {
	raw := json.RawMessage(`{"env-read": true, "fs-write": ["/project/out"]}`)
	set, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !set.Allows(KindEnvRead, "HOME") {
		t.Fatalf("expected unrestricted env-read")
	}
	if !set.Allows(KindFSWrite, "/project/out") {
		t.Fatalf("expected exact allow-list entry to match")
	}
	if set.Allows(KindFSWrite, "/project/outside") {
		t.Fatalf("expected sibling-prefix path not to match (segment boundary)")
	}
}

func TestParseUnknownKindRejected(t *testing.T) {
	raw := json.RawMessage(`["not-a-real-capability"]`)
	if _, err := Parse(raw); err == nil {
		t.Fatalf("expected error for unknown capability kind")
	}
}

func TestParseEmpty(t *testing.T) {
	set, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse nil: %v", err)
	}
	if set.Allows(KindUIInteract, "x") {
		t.Fatalf("expected empty set to deny everything")
	}
}
