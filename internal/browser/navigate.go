package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
)

// NavConfig budgets the load strategies.
type NavConfig struct {
	NetworkIdleTimeout time.Duration
	DOMReadyTimeout    time.Duration
	LoadEventTimeout   time.Duration
	SettleDelay        time.Duration
}

// Navigator loads target pages using a sequence of increasingly lenient
// wait strategies. The outer attempt is the most patient because it is the
// most likely to succeed on a healthy site.
type Navigator struct {
	cfg    NavConfig
	logger *zap.Logger
}

// NewNavigator creates a Navigator.
func NewNavigator(cfg NavConfig, logger *zap.Logger) *Navigator {
	if cfg.NetworkIdleTimeout <= 0 {
		cfg.NetworkIdleTimeout = 45 * time.Second
	}
	if cfg.DOMReadyTimeout <= 0 {
		cfg.DOMReadyTimeout = 30 * time.Second
	}
	if cfg.LoadEventTimeout <= 0 {
		cfg.LoadEventTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{cfg: cfg, logger: logger}
}

type strategy struct {
	name    string
	timeout time.Duration
	run     func(ctx context.Context, url string) error
}

// Load attempts each strategy in order against the session's browsing
// context; the first success wins and is followed by a fixed settle delay
// to admit late asynchronous DOM mutation. Exhausting every strategy
// yields a classified *scan.NavigationError.
func (n *Navigator) Load(ctx context.Context, session *Session, url string) error {
	strategies := []strategy{
		{"network-idle", n.cfg.NetworkIdleTimeout, n.loadNetworkIdle},
		{"dom-ready", n.cfg.DOMReadyTimeout, n.loadDOMReady},
		{"load-event", n.cfg.LoadEventTimeout, n.loadEvent},
	}

	var lastErr error
	for _, strat := range strategies {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		attemptCtx, cancel := mergeDeadline(session.Context(), ctx, strat.timeout)
		err := strat.run(attemptCtx, url)
		cancel()
		if err == nil {
			n.logger.Debug("page loaded",
				zap.String("url", url),
				zap.String("strategy", strat.name),
			)
			n.settle(ctx, session)
			return nil
		}
		lastErr = err
		n.logger.Debug("load strategy failed",
			zap.String("url", url),
			zap.String("strategy", strat.name),
			zap.Error(err),
		)
	}

	return &scan.NavigationError{
		Kind:    Classify(lastErr),
		Message: fmt.Sprintf("all load strategies failed for %s: %v", url, lastErr),
	}
}

func (n *Navigator) settle(ctx context.Context, session *Session) {
	if n.cfg.SettleDelay <= 0 {
		return
	}
	select {
	case <-time.After(n.cfg.SettleDelay):
	case <-ctx.Done():
	case <-session.Context().Done():
	}
}

// loadNetworkIdle succeeds once the page has navigated and the network has
// been quiet for a short span.
func (n *Navigator) loadNetworkIdle(ctx context.Context, url string) error {
	idle := watchNetworkIdle(ctx, 500*time.Millisecond)
	if err := chromedp.Run(ctx, network.Enable(), navigate(url)); err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loadDOMReady succeeds once the DOM has been parsed, without waiting for
// subresources.
func (n *Navigator) loadDOMReady(ctx context.Context, url string) error {
	return chromedp.Run(ctx,
		navigate(url),
		chromedp.Poll(
			`document.readyState === "interactive" || document.readyState === "complete"`,
			nil,
			chromedp.WithPollingInterval(100*time.Millisecond),
		),
	)
}

// loadEvent succeeds on the window load event.
func (n *Navigator) loadEvent(ctx context.Context, url string) error {
	loaded := make(chan struct{})
	var once sync.Once
	chromedp.ListenTarget(ctx, func(ev any) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			once.Do(func() { close(loaded) })
		}
	})
	if err := chromedp.Run(ctx, navigate(url)); err != nil {
		return err
	}
	select {
	case <-loaded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// navigate issues Page.navigate directly so the CDP error text (the
// net::ERR_* signal classification depends on) is preserved.
func navigate(url string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return fmt.Errorf("navigate: %w", err)
		}
		if errText != "" {
			return fmt.Errorf("navigate: %s", errText)
		}
		return nil
	}
}

// watchNetworkIdle returns a channel that closes once no requests have
// been in flight for idleAfter.
func watchNetworkIdle(ctx context.Context, idleAfter time.Duration) <-chan struct{} {
	idle := make(chan struct{})
	var (
		active     int32
		timerMu    sync.Mutex
		timer      *time.Timer
		closeOnce  sync.Once
		armOrRearm func()
	)

	armOrRearm = func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(idleAfter, func() {
			if atomic.LoadInt32(&active) == 0 {
				closeOnce.Do(func() { close(idle) })
			}
		})
	}
	armOrRearm()

	chromedp.ListenTarget(ctx, func(ev any) {
		switch ev.(type) {
		case *network.EventRequestWillBeSent:
			atomic.AddInt32(&active, 1)
		case *network.EventLoadingFinished, *network.EventLoadingFailed:
			if atomic.AddInt32(&active, -1) <= 0 {
				armOrRearm()
			}
		}
	})

	return idle
}

// PageInfo extracts the title and visible text of the loaded page for the
// health inspector.
func (n *Navigator) PageInfo(ctx context.Context, session *Session) (title, text string, err error) {
	runCtx, cancel := mergeDeadline(session.Context(), ctx, 10*time.Second)
	defer cancel()
	err = chromedp.Run(runCtx,
		chromedp.Title(&title),
		chromedp.Evaluate(`document.body ? document.body.innerText : ""`, &text),
	)
	if err != nil {
		return "", "", fmt.Errorf("extract page info: %w", err)
	}
	return title, text, nil
}

// mergeDeadline derives a run context from the session's chromedp context
// honoring the tighter of the caller deadline and the fallback timeout.
// Caller cancellation also cancels the derived context, so an abandoned
// request cannot keep a browser busy for the rest of the strategy budget.
func mergeDeadline(sessionCtx, callerCtx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := fallback
	if deadline, ok := callerCtx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	ctx, cancel := context.WithTimeout(sessionCtx, timeout)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Classify maps an underlying load failure to its navigation error kind.
// It is the single source of truth for the HTTP status mapping; callers
// must not re-derive the class elsewhere.
func Classify(err error) scan.NavKind {
	if err == nil {
		return scan.NavOther
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scan.NavTimeout
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "ERR_NAME_NOT_RESOLVED", "ERR_NAME_RESOLUTION_FAILED", "no such host"):
		return scan.NavDNSNotFound
	case containsAny(msg, "ERR_CONNECTION_REFUSED", "connection refused"):
		return scan.NavConnectionRefused
	case containsAny(msg, "ERR_CERT_", "ERR_SSL_", "certificate", "tls:"):
		return scan.NavTLSError
	case containsAny(msg, "ERR_TOO_MANY_REDIRECTS"):
		return scan.NavRedirectLoop
	case containsAny(msg, "ERR_TIMED_OUT", "ERR_CONNECTION_TIMED_OUT", "context deadline exceeded"):
		return scan.NavTimeout
	default:
		return scan.NavOther
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
