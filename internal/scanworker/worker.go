// Package scanworker implements the registry's background scan pipeline
// (spec §4.11): a polling loop over published versions lacking a scan
// result, static Wasm import/export extraction, heuristic rules, and an
// idempotent ScanResult write. A push-queue fast path (wired from
// internal/ingestion's publish pipeline, step 8) lets a freshly published
// version get scanned well before the next poll tick; the poll loop is
// the system of record, so a dropped or never-enqueued job still gets
// picked up.
package scanworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/env-architect/architect/internal/audit"
	"github.com/env-architect/architect/internal/ingestion"
	"github.com/env-architect/architect/internal/observability"
	"github.com/env-architect/architect/internal/registry"
	"github.com/env-architect/architect/pkg/models"
)

// DefaultPollInterval is how often Run reconciles against PENDING versions
// lacking a scan result, absent an explicit Worker.PollInterval.
const DefaultPollInterval = 30 * time.Second

// ComponentStorageKey is the filename convention shared with the
// filesystem artifact store (spec §4.9 step 6: "<storage>/<component_id>.wasm"),
// used to reconstruct a storage key for versions discovered by polling
// rather than handed a ScanJob directly.
func ComponentStorageKey(componentID string) string {
	return componentID + ".wasm"
}

// ArtifactFetcher retrieves a published artifact's raw bytes by storage
// key, preferring local storage and falling back to an OCI pull (spec
// §4.11). ChainFetcher is the standard composition of the two.
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, storageKey string) ([]byte, error)
}

// LocalFetcher reads an artifact out of the registry's local filesystem
// store, if present there.
type LocalFetcher interface {
	FetchLocal(ctx context.Context, storageKey string) ([]byte, error)
}

// OCIFetcher pulls an artifact from the OCI distribution backend as a
// fallback when it is absent from local storage.
type OCIFetcher interface {
	FetchOCI(ctx context.Context, storageKey string) ([]byte, error)
}

// ChainFetcher tries Local first and falls back to OCI, matching the
// preference order spec §4.11 describes for the scan worker's artifact
// retrieval step.
type ChainFetcher struct {
	Local LocalFetcher
	OCI   OCIFetcher
}

// FetchArtifact implements ArtifactFetcher.
func (c ChainFetcher) FetchArtifact(ctx context.Context, storageKey string) ([]byte, error) {
	if c.Local != nil {
		data, err := c.Local.FetchLocal(ctx, storageKey)
		if err == nil {
			return data, nil
		}
	}
	if c.OCI != nil {
		return c.OCI.FetchOCI(ctx, storageKey)
	}
	return nil, fmt.Errorf("artifact %s not found locally and no OCI fallback configured", storageKey)
}

// ResultRecorder persists a scan verdict. internal/registry.Repository
// satisfies this.
type ResultRecorder interface {
	UpsertScanResult(ctx context.Context, s *models.ScanResult) (*models.ScanResult, error)
}

// PendingLister enumerates versions awaiting a scan, the poll loop's
// reconciliation source. internal/registry.Repository satisfies this.
type PendingLister interface {
	ListPendingUnscanned(ctx context.Context) ([]registry.PendingVersion, error)
}

// Queue is a channel-backed ingestion.ScanQueue: Publish enqueues a job,
// Run dequeues it. Buffered so a burst of publishes doesn't block the
// publisher; a full queue falls back to the next poll tick instead of
// blocking or dropping silently.
type Queue struct {
	jobs chan ingestion.ScanJob
}

// NewQueue creates a Queue with the given buffer size (256 if buffer <= 0).
func NewQueue(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 256
	}
	return &Queue{jobs: make(chan ingestion.ScanJob, buffer)}
}

// Enqueue implements ingestion.ScanQueue.
func (q *Queue) Enqueue(ctx context.Context, job ingestion.ScanJob) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("scan queue full, version %s will pick up on next poll", job.VersionID)
	}
}

var _ ingestion.ScanQueue = (*Queue)(nil)

// Worker scans published versions and records their verdicts.
type Worker struct {
	Queue        *Queue
	Pending      PendingLister
	Artifacts    ArtifactFetcher
	Results      ResultRecorder
	Logger       *observability.Logger
	PollInterval time.Duration
	// Audit receives a finding for any non-safe verdict. Nil is a valid,
	// no-auditing default.
	Audit audit.Sink
}

func (w *Worker) pollInterval() time.Duration {
	if w.PollInterval > 0 {
		return w.PollInterval
	}
	return DefaultPollInterval
}

// Run processes jobs from the push queue and, on each poll tick,
// reconciles against any PENDING version lacking a scan result. It
// blocks until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-w.Queue.jobs:
			w.scanJob(ctx, job)
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	pending, err := w.Pending.ListPendingUnscanned(ctx)
	if err != nil {
		w.Logger.Error(ctx, "scan worker poll failed", "error", err)
		return
	}
	for _, p := range pending {
		w.scanJob(ctx, ingestion.ScanJob{
			VersionID:  p.VersionID,
			Name:       p.Name,
			Version:    p.Version,
			StorageKey: ComponentStorageKey(p.ComponentID),
		})
	}
}

func (w *Worker) scanJob(ctx context.Context, job ingestion.ScanJob) {
	if err := w.scan(ctx, job); err != nil {
		w.Logger.Error(ctx, "scan job failed", "version_id", job.VersionID, "error", err)
	}
}

func (w *Worker) scan(ctx context.Context, job ingestion.ScanJob) error {
	data, err := w.Artifacts.FetchArtifact(ctx, job.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch artifact %s: %w", job.StorageKey, err)
	}

	var status models.ScanStatus
	var report Report
	info, parseErr := ParseModule(data)
	if parseErr != nil {
		status = models.ScanSuspicious
		report = Report{Findings: []string{fmt.Sprintf("failed to parse module: %v", parseErr)}}
	} else {
		status, report = evaluate(info)
	}

	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal scan report: %w", err)
	}

	if _, err := w.Results.UpsertScanResult(ctx, &models.ScanResult{
		VersionID: job.VersionID,
		Status:    status,
		Report:    reportJSON,
	}); err != nil {
		return fmt.Errorf("record scan result: %w", err)
	}

	if status != models.ScanSafe && w.Audit != nil {
		w.Audit.Record(audit.ScanVerdict(job.Name, string(status)))
	}

	w.Logger.Info(ctx, "scanned package version", "version_id", job.VersionID, "name", job.Name, "version", job.Version, "status", status)
	return nil
}
