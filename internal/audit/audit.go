// Package audit records structured findings for security-relevant events
// raised elsewhere in the registry: capability denials at the host
// bridge, signature failures during publish, and suspicious/malicious
// scan verdicts. It replaces the teacher's own config/filesystem
// security auditor with an event-sink shaped the same way (severity,
// check ID, remediation) but driven by runtime events instead of a
// point-in-time config scan.
package audit

import "time"

// Severity is the importance of one recorded finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// Finding is one audit record: a denied capability, a rejected
// signature, or a scan verdict worth surfacing.
type Finding struct {
	CheckID     string    `json:"check_id"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Detail      string    `json:"detail"`
	Remediation string    `json:"remediation,omitempty"`
	Occurred    time.Time `json:"occurred_at"`
}

// Summary counts findings by severity.
type Summary struct {
	Critical int `json:"critical"`
	Warn     int `json:"warn"`
	Info     int `json:"info"`
}

// Report is an accumulated batch of findings plus their severity counts.
type Report struct {
	Findings []Finding `json:"findings"`
	Summary  Summary   `json:"summary"`
}

// HasCritical reports whether the report contains any critical finding.
func (r Report) HasCritical() bool {
	return r.Summary.Critical > 0
}

// Sink receives findings as they occur. Recorder implements it; callers
// that don't care about auditing can leave their Sink field nil — every
// call site in this module treats a nil Sink as a no-op.
type Sink interface {
	Record(f Finding)
}

// CapabilityDenied builds the finding hostbridge.Bridge.deny logs in
// addition to its warning, one per denied call.
func CapabilityDenied(pluginID, call, capabilityKind, resource string) Finding {
	return Finding{
		CheckID:  "capability.denied",
		Severity: SeverityWarn,
		Title:    "plugin capability denied",
		Detail:   "plugin " + pluginID + " called " + call + " without the " + capabilityKind + " capability for " + resource,
	}
}

// SignatureInvalid builds the finding ingestion.Service.Publish records
// when an uploaded artifact fails signature verification.
func SignatureInvalid(componentID, uploaderID string) Finding {
	return Finding{
		CheckID:     "publish.invalid_signature",
		Severity:    SeverityCritical,
		Title:       "artifact signature verification failed",
		Detail:      "component " + componentID + " uploaded by " + uploaderID + " did not verify against any registered signing key",
		Remediation: "re-sign the artifact with a key registered via POST /v1/signing-keys, or investigate the upload as tampered",
	}
}

// ScanVerdict builds the finding the scan worker records for a
// non-"safe" verdict.
func ScanVerdict(componentID, status string) Finding {
	sev := SeverityWarn
	if status == "malicious" {
		sev = SeverityCritical
	}
	return Finding{
		CheckID:  "scan.verdict." + status,
		Severity: sev,
		Title:    "scan worker flagged component " + componentID,
		Detail:   "component " + componentID + " scanned as " + status,
	}
}
