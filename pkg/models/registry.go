package models

import "time"

// ApprovalStatus is the review state of a published PackageVersion.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// SignerType distinguishes who produced a Signature.
type SignerType string

const (
	SignerDeveloper SignerType = "DEVELOPER"
	SignerPlatform  SignerType = "PLATFORM"
)

// DependencyKind classifies a DependencyEdge.
type DependencyKind string

const (
	DepRuntime DependencyKind = "runtime"
	DepDev     DependencyKind = "dev"
	DepBuild   DependencyKind = "build"
	DepPeer    DependencyKind = "peer"
)

// ScanStatus is the verdict of a ScanResult.
type ScanStatus string

const (
	ScanSafe       ScanStatus = "safe"
	ScanSuspicious ScanStatus = "suspicious"
	ScanMalicious  ScanStatus = "malicious"
)

// Component is the registry's artifact identity record: one row per
// (ecosystem, name, version) artifact, keyed by purl.
type Component struct {
	ID        string    `json:"id"`
	Purl      string    `json:"purl"`
	Ecosystem string    `json:"ecosystem"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	SHA256    string    `json:"sha256"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Package is the registry's searchable package record. It is append-only:
// once created its owner never changes.
type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"ownerId"`
	Description string    `json:"description"`
	Embedding   []float32 `json:"embedding,omitempty"`

	QualityScore     float64 `json:"qualityScore"`
	PopularityScore  float64 `json:"popularityScore"`
	MaintenanceScore float64 `json:"maintenanceScore"`
	AuthorityScore   float64 `json:"authorityScore"`
	TrendingScore    float64 `json:"trendingScore"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PackageVersion is one immutable published version of a Package.
type PackageVersion struct {
	ID             string         `json:"id"`
	PackageID      string         `json:"packageId"`
	ComponentID    string         `json:"componentId"`
	Major          int            `json:"major"`
	Minor          int            `json:"minor"`
	Patch          int            `json:"patch"`
	Pre            string         `json:"pre,omitempty"`
	OCIReference   string         `json:"ociReference,omitempty"`
	IntegrityHash  string         `json:"integrityHash"`
	ApprovalStatus ApprovalStatus `json:"approvalStatus"`
	Yanked         bool           `json:"yanked"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// SemVer renders the (major, minor, patch, pre) tuple as a dotted version
// string, e.g. "1.2.3" or "1.2.3-beta.1".
func (v PackageVersion) SemVer() string {
	s := itoa(v.Major) + "." + itoa(v.Minor) + "." + itoa(v.Patch)
	if v.Pre != "" {
		s += "-" + v.Pre
	}
	return s
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Signature is a cryptographic signature over a PackageVersion's artifact.
type Signature struct {
	ID          string     `json:"id"`
	VersionID   string     `json:"versionId"`
	SignerType  SignerType `json:"signerType"`
	SignerID    string     `json:"signerId"`
	Signature   []byte     `json:"signature"`
	Certificate []byte     `json:"certificate,omitempty"`
	PublicKey   []byte     `json:"publicKey,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// DependencyEdge is one dependency relationship between two components.
type DependencyEdge struct {
	ID          string         `json:"id"`
	SourceID    string         `json:"sourceComponentId"`
	TargetID    string         `json:"targetComponentId"`
	Requirement string         `json:"versionRequirement"`
	Kind        DependencyKind `json:"kind"`
}

// ScanResult is the scan-worker's verdict for one PackageVersion. It is
// created at most once per VersionID.
type ScanResult struct {
	ID        string     `json:"id"`
	VersionID string     `json:"versionId"`
	Status    ScanStatus `json:"status"`
	Report    []byte     `json:"report"`
	CreatedAt time.Time  `json:"createdAt"`
}
