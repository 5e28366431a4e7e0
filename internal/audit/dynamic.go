package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/browser"
	"github.com/sitewarden/sitewarden/internal/scan"
)

// ActionResult records one scripted interaction and the accessibility
// evaluation that followed it, or the interaction's own failure.
type ActionResult struct {
	Action scan.DynamicAction `json:"action"`
	Result *AxeResult         `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// DynamicResult is the dynamic-content accessibility payload.
type DynamicResult struct {
	Actions []ActionResult `json:"actions"`
}

// interactFunc drives one browser interaction. Injectable for tests.
type interactFunc func(ctx context.Context, session *browser.Session, action scan.DynamicAction) error

// evaluateFunc runs the structural evaluation after an interaction.
// Injectable for tests.
type evaluateFunc func(ctx context.Context, session *browser.Session) (*AxeResult, error)

// DynamicAuditor performs the requested interactions against the live page
// and re-runs the structural evaluation after each one. One action's
// failure is recorded and never aborts the remaining actions.
type DynamicAuditor struct {
	settle        time.Duration
	actionTimeout time.Duration
	interact      interactFunc
	evaluate      evaluateFunc
	logger        *zap.Logger
}

// NewDynamicAuditor creates a DynamicAuditor sharing the structural engine.
func NewDynamicAuditor(axe *AxeAuditor, settle time.Duration, logger *zap.Logger) *DynamicAuditor {
	if settle <= 0 {
		settle = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &DynamicAuditor{
		settle:        settle,
		actionTimeout: 10 * time.Second,
		evaluate:      axe.Evaluate,
		logger:        logger,
	}
	d.interact = d.runInteraction
	return d
}

// Kind returns the audit kind this auditor produces.
func (d *DynamicAuditor) Kind() scan.AuditKind { return scan.KindDynamic }

// Run executes each requested action in order.
func (d *DynamicAuditor) Run(ctx context.Context, session *browser.Session, req scan.Request) (any, error) {
	result := DynamicResult{Actions: make([]ActionResult, 0, len(req.DynamicActions))}
	for _, action := range req.DynamicActions {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result.Actions = append(result.Actions, d.perform(ctx, session, action))
	}
	return result, nil
}

func (d *DynamicAuditor) perform(ctx context.Context, session *browser.Session, action scan.DynamicAction) ActionResult {
	out := ActionResult{Action: action}

	if err := d.interact(ctx, session, action); err != nil {
		d.logger.Debug("dynamic action failed",
			zap.String("kind", string(action.Kind)),
			zap.String("selector", action.Selector),
			zap.Error(err),
		)
		out.Error = err.Error()
		return out
	}

	select {
	case <-time.After(d.settle):
	case <-ctx.Done():
		out.Error = ctx.Err().Error()
		return out
	}

	axeResult, err := d.evaluate(ctx, session)
	if err != nil {
		out.Error = fmt.Sprintf("evaluate after action: %v", err)
		return out
	}
	out.Result = axeResult
	return out
}

func (d *DynamicAuditor) runInteraction(ctx context.Context, session *browser.Session, action scan.DynamicAction) error {
	var task chromedp.Action
	switch action.Kind {
	case scan.ActionClick:
		task = chromedp.Click(action.Selector, chromedp.ByQuery)
	case scan.ActionFocus:
		task = chromedp.Focus(action.Selector, chromedp.ByQuery)
	case scan.ActionType:
		task = chromedp.SendKeys(action.Selector, action.Value, chromedp.ByQuery)
	case scan.ActionHover:
		task = chromedp.Evaluate(hoverScript(action.Selector), nil)
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}

	runCtx, cancel := context.WithTimeout(session.Context(), d.actionTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, task); err != nil {
		return fmt.Errorf("%s %s: %w", action.Kind, action.Selector, err)
	}
	return nil
}

func hoverScript(selector string) string {
	return fmt.Sprintf(`(() => {
	const el = document.querySelector(%q);
	if (!el) { throw new Error("no element matches selector"); }
	el.dispatchEvent(new MouseEvent("mouseover", {bubbles: true}));
	el.dispatchEvent(new MouseEvent("mouseenter", {bubbles: true}));
})()`, selector)
}
