// Package capability implements the manifest capability grammar and the
// allow-list checks the host bridge consults before servicing any plugin
// callback.
package capability

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind names a capability the host bridge can gate.
type Kind string

const (
	KindUIInteract Kind = "ui-interact"
	KindUISecret   Kind = "ui-secret"
	KindEnvRead    Kind = "env-read"
	KindFSRead     Kind = "fs-read"
	KindFSWrite    Kind = "fs-write"
	KindSysExec    Kind = "sys-exec"
)

// knownKinds is consulted by manifest validation to reject unknown
// capability names.
var knownKinds = map[Kind]struct{}{
	KindUIInteract: {}, KindUISecret: {}, KindEnvRead: {},
	KindFSRead: {}, KindFSWrite: {}, KindSysExec: {},
}

// KnownKind reports whether kind is a recognized capability name.
func KnownKind(kind string) bool {
	_, ok := knownKinds[Kind(kind)]
	return ok
}

// Grant is one parsed capability entry: either unrestricted (Allowlist is
// nil) or scoped to a set of paths/names.
type Grant struct {
	Kind      Kind
	Allowlist []string // nil means unrestricted
}

// Set is the full capability grant set of one manifest, consulted per
// invocation by the host bridge.
type Set struct {
	grants map[Kind]Grant
}

// NewSet builds a Set from already-parsed grants.
func NewSet(grants []Grant) *Set {
	s := &Set{grants: make(map[Kind]Grant, len(grants))}
	for _, g := range grants {
		s.grants[g.Kind] = g
	}
	return s
}

// Parse decodes the manifest's `capabilities` value, which accepts two
// shapes per spec §6: a JSON array mixing bare strings and single-key
// objects (`["ui-interact", {"fs-read": ["/a", "/b"]}]`), or a single JSON
// object keyed by capability name (`{"fs-read": ["/a", "/b"], "env-read":
// true}`).
func Parse(raw json.RawMessage) (*Set, error) {
	if len(raw) == 0 {
		return NewSet(nil), nil
	}

	var asArray []json.RawMessage
	if err := json.Unmarshal(raw, &asArray); err == nil {
		grants := make([]Grant, 0, len(asArray))
		for _, entry := range asArray {
			g, err := parseEntry(entry)
			if err != nil {
				return nil, err
			}
			grants = append(grants, g)
		}
		return NewSet(grants), nil
	}

	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asObject); err == nil {
		grants := make([]Grant, 0, len(asObject))
		for name, val := range asObject {
			g, err := parseScopedValue(Kind(name), val)
			if err != nil {
				return nil, err
			}
			grants = append(grants, g)
		}
		return NewSet(grants), nil
	}

	return nil, fmt.Errorf("capabilities must be an array or object")
}

func parseEntry(entry json.RawMessage) (Grant, error) {
	var bare string
	if err := json.Unmarshal(entry, &bare); err == nil {
		if !KnownKind(bare) {
			return Grant{}, fmt.Errorf("unknown capability kind %q", bare)
		}
		return Grant{Kind: Kind(bare)}, nil
	}

	var obj map[string][]string
	if err := json.Unmarshal(entry, &obj); err == nil {
		if len(obj) != 1 {
			return Grant{}, fmt.Errorf("scoped capability entry must have exactly one key")
		}
		for name, paths := range obj {
			if !KnownKind(name) {
				return Grant{}, fmt.Errorf("unknown capability kind %q", name)
			}
			return Grant{Kind: Kind(name), Allowlist: paths}, nil
		}
	}

	return Grant{}, fmt.Errorf("invalid capability entry")
}

func parseScopedValue(kind Kind, val json.RawMessage) (Grant, error) {
	if !KnownKind(string(kind)) {
		return Grant{}, fmt.Errorf("unknown capability kind %q", kind)
	}
	var asBool bool
	if err := json.Unmarshal(val, &asBool); err == nil {
		return Grant{Kind: kind}, nil
	}
	var asList []string
	if err := json.Unmarshal(val, &asList); err == nil {
		return Grant{Kind: kind, Allowlist: asList}, nil
	}
	return Grant{}, fmt.Errorf("invalid value for capability %q", kind)
}

// Has reports whether the set grants kind at all (unrestricted or scoped).
func (s *Set) Has(kind Kind) bool {
	_, ok := s.grants[kind]
	return ok
}

// Allows reports whether kind is granted for resource. For path
// capabilities (fs-read, fs-write, sys-exec) an unrestricted grant (no
// allow-list) permits anything; a scoped grant permits resource only if it
// is equal to, or a path-descendant of, one of the allow-list entries,
// compared after both sides are cleaned/canonicalized. For non-path
// capabilities (ui-interact, ui-secret, env-read) any grant of that kind
// permits every resource, matching spec §4.2's "bare name = unrestricted"
// rule applied uniformly.
func (s *Set) Allows(kind Kind, resource string) bool {
	grant, ok := s.grants[kind]
	if !ok {
		return false
	}
	if grant.Allowlist == nil {
		return true
	}
	if !isPathKind(kind) {
		for _, entry := range grant.Allowlist {
			if entry == resource {
				return true
			}
		}
		return false
	}
	target := canonicalize(resource)
	for _, entry := range grant.Allowlist {
		if withinPrefix(target, canonicalize(entry)) {
			return true
		}
	}
	return false
}

func isPathKind(kind Kind) bool {
	return kind == KindFSRead || kind == KindFSWrite || kind == KindSysExec
}

func canonicalize(p string) string {
	return filepath.Clean(p)
}

// withinPrefix reports whether target is equal to base or a descendant of
// it, using path-segment boundaries so that "/project-x" is not treated as
// within "/project".
func withinPrefix(target, base string) bool {
	if target == base {
		return true
	}
	sep := string(filepath.Separator)
	return strings.HasPrefix(target, base+sep)
}
