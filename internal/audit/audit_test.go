package audit

import "testing"

func TestRecorderTracksSeverityCounts(t *testing.T) {
	r := NewRecorder(0)
	r.Record(CapabilityDenied("plugin-a", "read_file", "fs-read", "/etc/passwd"))
	r.Record(SignatureInvalid("comp-1", "user-1"))
	r.Record(ScanVerdict("comp-2", "malicious"))

	snap := r.Snapshot()
	if len(snap.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(snap.Findings))
	}
	if snap.Summary.Warn != 1 {
		t.Fatalf("expected 1 warn finding, got %d", snap.Summary.Warn)
	}
	if snap.Summary.Critical != 2 {
		t.Fatalf("expected 2 critical findings (signature + malicious scan), got %d", snap.Summary.Critical)
	}
	if !snap.HasCritical() {
		t.Fatal("expected HasCritical to be true")
	}
}

func TestRecorderTrimsToMaxKeptButKeepsCounting(t *testing.T) {
	r := NewRecorder(2)
	r.Record(ScanVerdict("comp-1", "suspicious"))
	r.Record(ScanVerdict("comp-2", "suspicious"))
	r.Record(ScanVerdict("comp-3", "suspicious"))

	snap := r.Snapshot()
	if len(snap.Findings) != 2 {
		t.Fatalf("expected findings trimmed to 2, got %d", len(snap.Findings))
	}
	if snap.Summary.Warn != 3 {
		t.Fatalf("expected summary to still count all 3, got %d", snap.Summary.Warn)
	}
	if snap.Findings[0].Detail == "" || snap.Findings[1].Detail == "" {
		t.Fatal("expected trimmed findings to be the most recent, non-empty ones")
	}
}

func TestScanVerdictSeverityByStatus(t *testing.T) {
	if got := ScanVerdict("c", "suspicious").Severity; got != SeverityWarn {
		t.Fatalf("suspicious verdict severity = %q, want warn", got)
	}
	if got := ScanVerdict("c", "malicious").Severity; got != SeverityCritical {
		t.Fatalf("malicious verdict severity = %q, want critical", got)
	}
}
