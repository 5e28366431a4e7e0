// Package ratelimit implements a per-client sliding-window admission gate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// Config holds sliding-window parameters.
type Config struct {
	Window        time.Duration
	MaxRequests   int
	SweepInterval time.Duration
}

// Limiter admits at most MaxRequests per identity inside the trailing
// Window. Timestamps are pruned on access; a low-frequency sweep removes
// identities whose entire window has elapsed so the map stays bounded.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	cfg     Config
	clock   scan.Clock
	logger  *zap.Logger
}

// New creates a Limiter.
func New(cfg Config, clock scan.Clock, logger *zap.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 50
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Minute
	}
	return &Limiter{
		windows: make(map[string][]time.Time),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Allow reports whether the identity may proceed, appending the current
// timestamp on admission.
func (l *Limiter) Allow(identity string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	window := pruneBefore(l.windows[identity], cutoff)
	if len(window) >= l.cfg.MaxRequests {
		l.windows[identity] = window
		telemetry.ObserveRateLimitRejected()
		return false
	}
	l.windows[identity] = append(window, now)
	return true
}

// Run sweeps fully-expired identities until the context finishes.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Limiter) sweep() {
	cutoff := l.clock.Now().Add(-l.cfg.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identity, window := range l.windows {
		if len(pruneBefore(window, cutoff)) == 0 {
			delete(l.windows, identity)
			removed++
		}
	}
	if removed > 0 {
		l.logger.Debug("rate limiter sweep", zap.Int("identities_removed", removed))
	}
}

// Identities returns the number of tracked identities, for the health
// endpoint and tests.
func (l *Limiter) Identities() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func pruneBefore(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return window[i:]
}
