// Package browser owns the pool of headless Chrome sessions and the
// navigation procedure that loads target pages for auditing.
package browser

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
)

// Session is an exclusively-owned handle to one live headless Chrome
// process plus its browsing context. It is never shared across concurrent
// scans.
type Session struct {
	id        string
	createdAt time.Time
	debugPort int

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	onClose func()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// DebugPort returns the remote debugging port of the underlying browser,
// used by the external audit engine.
func (s *Session) DebugPort() int { return s.debugPort }

// Context returns the chromedp context of the session's browsing context.
func (s *Session) Context() context.Context { return s.tabCtx }

// Close tears down the browsing context and the browser process. It is
// idempotent: closing an already-released or already-swept session is a
// no-op.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// launchChrome starts one isolated Chrome process with a restricted,
// low-footprint profile and connects a fresh browsing context to it.
func launchChrome(ctx context.Context, chromePath, userAgent string, debugPort int, createdAt time.Time) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("renderer-process-limit", "1"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(debugPort)),
	)
	if chromePath != "" {
		opts = append(opts, chromedp.ExecPath(chromePath))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so launch failures surface
	// here rather than on first navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}

	return &Session{
		id:          uuid.NewString(),
		createdAt:   createdAt,
		debugPort:   debugPort,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}, nil
}
