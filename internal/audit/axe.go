// Package audit implements the pipeline that runs the requested audit set
// against one loaded page, isolating each audit's failure.
package audit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/scan"
)

// Violation is one rule failure reported by the accessibility engine.
type Violation struct {
	ID          string          `json:"id"`
	Impact      string          `json:"impact"`
	Description string          `json:"description"`
	Help        string          `json:"help"`
	HelpURL     string          `json:"helpUrl"`
	Nodes       []ViolationNode `json:"nodes"`
}

// ViolationNode locates one offending element.
type ViolationNode struct {
	Target []string `json:"target"`
	HTML   string   `json:"html"`
}

// AxeResult is the structural accessibility payload.
type AxeResult struct {
	Violations []Violation `json:"violations"`
}

// axeRunScript evaluates the injected engine restricted to the WCAG
// conformance tags, collecting violations only; passes and incompletes are
// discarded to bound payload size.
const axeRunScript = `axe.run(document, {
	runOnly: {type: "tag", values: ["wcag2a", "wcag2aa", "wcag21a", "wcag21aa"]},
	resultTypes: ["violations"]
}).then(r => ({
	violations: r.violations.map(v => ({
		id: v.id,
		impact: v.impact || "",
		description: v.description,
		help: v.help,
		helpUrl: v.helpUrl,
		nodes: v.nodes.slice(0, 10).map(n => ({target: n.target.map(String), html: n.html}))
	}))
}))`

// AxeAuditor injects the axe-core rule engine into the page and evaluates
// it.
type AxeAuditor struct {
	source string
	logger *zap.Logger
}

// NewAxeAuditor creates an AxeAuditor from the engine's JavaScript source.
func NewAxeAuditor(source string, logger *zap.Logger) *AxeAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AxeAuditor{source: source, logger: logger}
}

// LoadAxeSource reads the bundled axe-core script from disk.
func LoadAxeSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read axe source %s: %w", path, err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("axe source %s is empty", path)
	}
	return string(data), nil
}

// Kind returns the audit kind this auditor produces.
func (a *AxeAuditor) Kind() scan.AuditKind { return scan.KindAccessibility }

// Run evaluates the engine against the session's current page.
func (a *AxeAuditor) Run(ctx context.Context, session *browser.Session, _ scan.Request) (any, error) {
	return a.Evaluate(ctx, session)
}

// Evaluate injects the engine if the page does not already carry it, then
// runs the restricted ruleset. Exposed separately so the dynamic auditor
// can re-run it after each interaction.
func (a *AxeAuditor) Evaluate(ctx context.Context, session *browser.Session) (*AxeResult, error) {
	runCtx, cancel := context.WithTimeout(session.Context(), 30*time.Second)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < 30*time.Second {
		cancel()
		runCtx, cancel = context.WithDeadline(session.Context(), deadline)
		defer cancel()
	}

	var present bool
	if err := chromedp.Run(runCtx,
		chromedp.Evaluate(`typeof axe !== "undefined"`, &present),
	); err != nil {
		return nil, fmt.Errorf("probe for engine: %w", err)
	}
	if !present {
		if err := chromedp.Run(runCtx,
			chromedp.Evaluate(a.source, nil),
		); err != nil {
			return nil, fmt.Errorf("inject engine: %w", err)
		}
	}

	var result AxeResult
	err := chromedp.Run(runCtx,
		chromedp.Evaluate(axeRunScript, &result,
			func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
				return p.WithAwaitPromise(true)
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("run engine: %w", err)
	}
	if result.Violations == nil {
		result.Violations = []Violation{}
	}
	return &result, nil
}
