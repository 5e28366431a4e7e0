package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// Auditor runs one audit kind against a loaded page.
type Auditor interface {
	Kind() scan.AuditKind
	Run(ctx context.Context, session *browser.Session, req scan.Request) (any, error)
}

// Pipeline runs the requested audit set against one loaded page. Audits
// touching the same browsing context are ordered, never parallel; each
// audit's failure is isolated into its own result slot.
type Pipeline struct {
	auditors   []Auditor
	lighthouse *LighthouseRunner
	logger     *zap.Logger
}

// NewPipeline creates a Pipeline. lighthouse may be nil when the external
// engine is not wired at all.
func NewPipeline(auditors []Auditor, lighthouse *LighthouseRunner, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{auditors: auditors, lighthouse: lighthouse, logger: logger}
}

// Run executes every requested audit kind to a terminal state. A failed
// audit contributes an error payload and never prevents a sibling's
// attempt. Kinds belonging to an unavailable external engine are omitted
// entirely, distinguishing "not run" from "run and failed".
func (p *Pipeline) Run(ctx context.Context, session *browser.Session, req scan.Request) map[scan.AuditKind]any {
	results := make(map[scan.AuditKind]any)

	for _, auditor := range p.auditors {
		kind := auditor.Kind()
		if !req.Requested(kind) {
			continue
		}
		payload, err := p.runOne(ctx, auditor, session, req)
		if err != nil {
			p.logger.Warn("audit failed",
				zap.String("kind", string(kind)),
				zap.String("url", req.URL),
				zap.Error(err),
			)
			telemetry.ObserveAuditFailure(string(kind))
			results[kind] = scan.AuditError{Error: err.Error()}
			continue
		}
		results[kind] = payload
	}

	p.runLighthouse(ctx, session, req, results)
	return results
}

// runOne isolates a single auditor, converting panics into failures so a
// misbehaving engine cannot take down the scan.
func (p *Pipeline) runOne(ctx context.Context, auditor Auditor, session *browser.Session, req scan.Request) (payload any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit panicked: %v", r)
		}
	}()
	return auditor.Run(ctx, session, req)
}

func (p *Pipeline) runLighthouse(ctx context.Context, session *browser.Session, req scan.Request, results map[scan.AuditKind]any) {
	kinds := req.LighthouseCategories()
	if len(kinds) == 0 {
		return
	}
	if p.lighthouse == nil || !p.lighthouse.Available() {
		// Not an error: requested categories are simply absent from the
		// result map.
		return
	}

	payloads, err := p.lighthouse.Run(ctx, req.URL, session.DebugPort(), kinds)
	if err != nil {
		p.logger.Warn("external audit engine failed",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		for _, kind := range kinds {
			telemetry.ObserveAuditFailure(string(kind))
			results[kind] = scan.AuditError{Error: err.Error()}
		}
		return
	}
	for kind, payload := range payloads {
		results[kind] = payload
	}
}
