// Package orchestrator ties the session pool, navigator, health inspector
// and audit pipeline into the end-to-end scan flow.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/health"
	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// SessionPool is the slice of the browser pool the orchestrator needs.
type SessionPool interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Release(session *browser.Session)
}

// Loader is the slice of the navigator the orchestrator needs.
type Loader interface {
	Load(ctx context.Context, session *browser.Session, url string) error
	PageInfo(ctx context.Context, session *browser.Session) (title, text string, err error)
}

// AuditRunner is the audit pipeline's contract.
type AuditRunner interface {
	Run(ctx context.Context, session *browser.Session, req scan.Request) map[scan.AuditKind]any
}

// Publisher receives scan-completed events. Failures are logged, never
// surfaced to the caller.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// BlobStore archives completed scan reports. Failures are logged, never
// surfaced to the caller.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// Event is the scan-completed notification payload.
type Event struct {
	URL          string           `json:"url"`
	DurationMs   int64            `json:"durationMs"`
	WebsiteError bool             `json:"websiteError"`
	Audits       []scan.AuditKind `json:"audits"`
	Timestamp    time.Time        `json:"timestamp"`
}

// Orchestrator executes scans end to end.
type Orchestrator struct {
	pool      SessionPool
	loader    Loader
	inspector *health.Inspector
	pipeline  AuditRunner
	publisher Publisher
	archive   BlobStore
	prefix    string
	clock     scan.Clock
	logger    *zap.Logger
}

// Config carries the orchestrator's optional collaborators.
type Config struct {
	Publisher     Publisher
	Archive       BlobStore
	ArchivePrefix string
}

// New creates an Orchestrator.
func New(
	pool SessionPool,
	loader Loader,
	inspector *health.Inspector,
	pipeline AuditRunner,
	clock scan.Clock,
	logger *zap.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.ArchivePrefix
	if prefix == "" {
		prefix = "scans"
	}
	return &Orchestrator{
		pool:      pool,
		loader:    loader,
		inspector: inspector,
		pipeline:  pipeline,
		publisher: cfg.Publisher,
		archive:   cfg.Archive,
		prefix:    prefix,
		clock:     clock,
		logger:    logger,
	}
}

// Scan validates the request, acquires a session, loads and inspects the
// page, runs the requested audits, and releases the session on every path.
func (o *Orchestrator) Scan(ctx context.Context, req scan.Request) (*scan.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := o.clock.Now()

	session, err := o.pool.Acquire(ctx)
	if err != nil {
		telemetry.ObserveScan("pool_exhausted", 0)
		return nil, err
	}
	// Every exit path returns the session through the pool's close path;
	// it is never silently abandoned.
	defer o.pool.Release(session)

	if err := o.loader.Load(ctx, session, req.URL); err != nil {
		duration := o.clock.Now().Sub(start)
		telemetry.ObserveScan("navigation_failed", duration)
		return nil, err
	}

	status := scan.WebsiteStatus{Loaded: true}
	title, text, infoErr := o.loader.PageInfo(ctx, session)
	if infoErr != nil {
		o.logger.Warn("page info extraction failed",
			zap.String("url", req.URL),
			zap.Error(infoErr),
		)
	} else {
		inspected := o.inspector.Evaluate(title, text)
		status.Title = inspected.Title
		status.ContentLength = inspected.ContentLength
		status.HasError = inspected.HasError
		status.ErrorType = inspected.ErrorType
	}

	audits := o.pipeline.Run(ctx, session, req)

	duration := o.clock.Now().Sub(start)
	result := &scan.Result{
		URL:           req.URL,
		Audits:        audits,
		WebsiteStatus: status,
		ScanDuration:  duration.Milliseconds(),
		Timestamp:     o.clock.Now(),
	}

	telemetry.ObserveScan("succeeded", duration)
	o.logger.Info("scan completed",
		zap.String("url", req.URL),
		zap.Int64("duration_ms", result.ScanDuration),
		zap.Int("audits", len(audits)),
		zap.Bool("website_error", status.HasError),
	)

	o.notify(ctx, req, result)
	o.archiveResult(ctx, result)
	return result, nil
}

// notify publishes the scan-completed event; failure never fails the scan.
func (o *Orchestrator) notify(ctx context.Context, req scan.Request, result *scan.Result) {
	if o.publisher == nil {
		return
	}
	event := Event{
		URL:          result.URL,
		DurationMs:   result.ScanDuration,
		WebsiteError: result.WebsiteStatus.HasError,
		Audits:       req.Audits,
		Timestamp:    result.Timestamp,
	}
	if _, err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("scan event publish failed",
			zap.String("url", result.URL),
			zap.Error(err),
		)
	}
}

// archiveResult writes the completed result as a JSON blob; failure never
// fails the scan.
func (o *Orchestrator) archiveResult(ctx context.Context, result *scan.Result) {
	if o.archive == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		o.logger.Warn("archive marshal failed", zap.Error(err))
		return
	}
	path := fmt.Sprintf("%s/%s/%s.json",
		o.prefix,
		result.Timestamp.UTC().Format("2006/01/02"),
		uuid.NewString(),
	)
	uri, err := o.archive.Put(ctx, path, "application/json", data)
	if err != nil {
		o.logger.Warn("archive write failed",
			zap.String("path", path),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("scan archived", zap.String("uri", uri))
}
