package scanworker

import (
	"testing"

	"github.com/env-architect/architect/pkg/models"
)

func TestEvaluateFlagsSuspiciousImportName(t *testing.T) {
	info := &ModuleInfo{
		Imports: []ImportEntry{{Module: "wasi_snapshot_preview1", Field: "fd_write", Kind: 0}},
	}
	status, report := evaluate(info)

	if status != models.ScanSuspicious {
		t.Fatalf("status = %s, want suspicious", status)
	}
	if len(report.SuspiciousImports) != 1 {
		t.Fatalf("suspicious imports = %+v", report.SuspiciousImports)
	}
}

func TestEvaluateFlagsExcessiveMemoryCeilingAsMalicious(t *testing.T) {
	info := &ModuleInfo{
		Memories: []MemoryLimits{{Initial: 1, Max: maxReasonableMemoryPages + 1, HasMax: true}},
	}
	status, report := evaluate(info)

	if status != models.ScanMalicious {
		t.Fatalf("status = %s, want malicious", status)
	}
	if report.MemoryMaxPages != maxReasonableMemoryPages+1 {
		t.Fatalf("memory max pages = %d", report.MemoryMaxPages)
	}
}

func TestEvaluateFlagsHighEntropyDataSection(t *testing.T) {
	data := make([]byte, 2048)
	for i := range data {
		data[i] = byte(i * 97) // cycles through many distinct byte values
	}
	info := &ModuleInfo{DataBytes: data}

	status, report := evaluate(info)

	if status != models.ScanSuspicious {
		t.Fatalf("status = %s, want suspicious", status)
	}
	if report.DataEntropy < highEntropyThreshold {
		t.Fatalf("entropy = %.2f, want >= %.2f", report.DataEntropy, highEntropyThreshold)
	}
}

func TestEvaluateReturnsSafeForBenignModule(t *testing.T) {
	info := &ModuleInfo{
		Imports:   []ImportEntry{{Module: "env", Field: "log", Kind: 0}},
		Exports:   []string{"run"},
		Memories:  []MemoryLimits{{Initial: 1, Max: 4, HasMax: true}},
		DataBytes: []byte{0, 0, 0, 0},
	}
	status, report := evaluate(info)

	if status != models.ScanSafe {
		t.Fatalf("status = %s, want safe: findings=%v", status, report.Findings)
	}
}

func TestEvaluateFlagsHighImportCount(t *testing.T) {
	imports := make([]ImportEntry, suspiciousImportCountThreshold+1)
	for i := range imports {
		imports[i] = ImportEntry{Module: "env", Field: "fn", Kind: 0}
	}
	status, _ := evaluate(&ModuleInfo{Imports: imports})

	if status != models.ScanSuspicious {
		t.Fatalf("status = %s, want suspicious", status)
	}
}

func TestEscalateNeverDowngrades(t *testing.T) {
	if got := escalate(models.ScanMalicious, models.ScanSafe); got != models.ScanMalicious {
		t.Fatalf("escalate downgraded from malicious to %s", got)
	}
	if got := escalate(models.ScanSafe, models.ScanSuspicious); got != models.ScanSuspicious {
		t.Fatalf("escalate did not upgrade: %s", got)
	}
}
