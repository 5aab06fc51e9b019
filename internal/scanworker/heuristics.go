package scanworker

import (
	"fmt"
	"math"
	"strings"

	"github.com/env-architect/architect/pkg/models"
)

// Report is the JSON document recorded alongside a ScanResult's verdict.
type Report struct {
	Findings          []string `json:"findings"`
	ImportCount       int      `json:"importCount"`
	SuspiciousImports []string `json:"suspiciousImports,omitempty"`
	DataEntropy       float64  `json:"dataEntropy"`
	MemoryMaxPages    uint32   `json:"memoryMaxPages,omitempty"`
}

const (
	// maxReasonableMemoryPages bounds a component's declared memory growth
	// ceiling at 256MiB (64KiB/page); beyond that a plugin sandboxed to
	// modest bounded resources (spec §4.1) has no legitimate reason to ask.
	maxReasonableMemoryPages = 4096

	// highEntropyThreshold flags a data section that reads as packed,
	// compressed, or encrypted rather than typical Wasm constant data.
	highEntropyThreshold = 7.5

	// suspiciousImportCountThreshold flags components that import far more
	// host functions than any capability-scoped plugin plausibly needs.
	suspiciousImportCountThreshold = 40
)

// suspiciousImportNames are import field substrings that reach well beyond
// a typical component's declared capabilities (spec §4.2's capability
// model expects explicit, narrow host-call surfaces).
var suspiciousImportNames = []string{
	"sock_", "proc_exec", "random_get", "path_open", "fd_write", "exec_",
}

func evaluate(info *ModuleInfo) (models.ScanStatus, Report) {
	report := Report{ImportCount: len(info.Imports)}

	for _, imp := range info.Imports {
		lower := strings.ToLower(imp.Field)
		for _, name := range suspiciousImportNames {
			if strings.Contains(lower, name) {
				report.SuspiciousImports = append(report.SuspiciousImports, imp.Module+"::"+imp.Field)
				break
			}
		}
	}

	report.DataEntropy = shannonEntropy(info.DataBytes)

	for _, mem := range info.Memories {
		if mem.HasMax && mem.Max > report.MemoryMaxPages {
			report.MemoryMaxPages = mem.Max
		}
	}

	status := models.ScanSafe

	if len(report.SuspiciousImports) > 0 {
		report.Findings = append(report.Findings, fmt.Sprintf("%d import(s) matched suspicious host-call name patterns", len(report.SuspiciousImports)))
		status = escalate(status, models.ScanSuspicious)
	}
	if report.ImportCount > suspiciousImportCountThreshold {
		report.Findings = append(report.Findings, fmt.Sprintf("unusually high import count: %d", report.ImportCount))
		status = escalate(status, models.ScanSuspicious)
	}
	if report.DataEntropy >= highEntropyThreshold {
		report.Findings = append(report.Findings, fmt.Sprintf("data section entropy %.2f suggests a packed or encrypted payload", report.DataEntropy))
		status = escalate(status, models.ScanSuspicious)
	}
	if report.MemoryMaxPages > maxReasonableMemoryPages {
		report.Findings = append(report.Findings, fmt.Sprintf("declares a memory growth ceiling of %d pages, exceeding the %d page sanity limit", report.MemoryMaxPages, maxReasonableMemoryPages))
		status = escalate(status, models.ScanMalicious)
	}

	return status, report
}

var statusRank = map[models.ScanStatus]int{
	models.ScanSafe:       0,
	models.ScanSuspicious: 1,
	models.ScanMalicious:  2,
}

func escalate(current, candidate models.ScanStatus) models.ScanStatus {
	if statusRank[candidate] > statusRank[current] {
		return candidate
	}
	return current
}

func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]int
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
