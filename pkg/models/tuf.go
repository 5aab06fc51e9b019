package models

import "time"

// TargetFileInfo is one entry in a Targets document: the declared length
// and hash digests of one artifact, keyed by filename.
type TargetFileInfo struct {
	Length int64             `json:"length"`
	Hashes map[string]string `json:"hashes"`
}

// TargetsMetadata is the TUF targets role document.
type TargetsMetadata struct {
	Type    string                    `json:"_type"`
	Version int64                     `json:"version"`
	Expires time.Time                 `json:"expires"`
	Targets map[string]TargetFileInfo `json:"targets"`
}

// MetaFileInfo references another metadata file's length, version and
// hashes, as used by Snapshot and Timestamp documents.
type MetaFileInfo struct {
	Version int64             `json:"version"`
	Length  int64             `json:"length,omitempty"`
	Hashes  map[string]string `json:"hashes,omitempty"`
}

// SnapshotMetadata is the TUF snapshot role document.
type SnapshotMetadata struct {
	Type    string                  `json:"_type"`
	Version int64                   `json:"version"`
	Expires time.Time               `json:"expires"`
	Meta    map[string]MetaFileInfo `json:"meta"`
}

// TimestampMetadata is the TUF timestamp role document.
type TimestampMetadata struct {
	Type    string                  `json:"_type"`
	Version int64                   `json:"version"`
	Expires time.Time               `json:"expires"`
	Meta    map[string]MetaFileInfo `json:"meta"`
}

// RootMetadata is the pinned root-of-trust document, loaded from disk only.
type RootMetadata struct {
	Type    string                 `json:"_type"`
	Version int64                  `json:"version"`
	Expires time.Time              `json:"expires"`
	Keys    map[string]RootKey     `json:"keys"`
	Roles   map[string]RoleKeyInfo `json:"roles"`
}

// RootKey is one Ed25519 public key registered in the root document.
type RootKey struct {
	KeyType string `json:"keytype"`
	KeyVal  struct {
		Public string `json:"public"`
	} `json:"keyval"`
}

// RoleKeyInfo names the keyids authorized for one role and the signature
// threshold required.
type RoleKeyInfo struct {
	KeyIDs    []string `json:"keyids"`
	Threshold int      `json:"threshold"`
}

// Signature is one (keyid, signature) pair over a SignedMetadata envelope's
// canonical signed payload.
type TUFSignature struct {
	KeyID string `json:"keyid"`
	Sig   string `json:"sig"`
}

// SignedMetadata wraps any TUF document with its signatures, exactly as
// served from /tuf/{targets,snapshot,timestamp}.json.
type SignedMetadata struct {
	Signatures []TUFSignature `json:"signatures"`
	Signed     any            `json:"signed"`
}
