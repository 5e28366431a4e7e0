package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// PoolConfig governs the session pool.
type PoolConfig struct {
	MaxSessions   int
	MaxSessionAge time.Duration
	SweepInterval time.Duration
	ChromePath    string
	UserAgent     string
	DebugBasePort int
}

// LaunchFunc starts one browser session on the given debugging port.
// Injectable so pool behavior is testable without Chrome.
type LaunchFunc func(ctx context.Context, debugPort int, createdAt time.Time) (*Session, error)

// Pool owns a bounded set of live browser sessions. Acquire fails
// immediately at the ceiling; it never queues.
type Pool struct {
	mu       sync.Mutex
	live     map[string]*Session
	reserved int

	ports  chan int
	cfg    PoolConfig
	launch LaunchFunc
	clock  scan.Clock
	logger *zap.Logger
}

// NewPool creates a Pool backed by real Chrome processes.
func NewPool(cfg PoolConfig, clock scan.Clock, logger *zap.Logger) *Pool {
	return NewPoolWithLauncher(cfg, clock, logger, func(ctx context.Context, port int, createdAt time.Time) (*Session, error) {
		return launchChrome(ctx, cfg.ChromePath, cfg.UserAgent, port, createdAt)
	})
}

// NewPoolWithLauncher creates a Pool with a custom session launcher.
func NewPoolWithLauncher(cfg PoolConfig, clock scan.Clock, logger *zap.Logger, launch LaunchFunc) *Pool {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 5
	}
	if cfg.MaxSessionAge <= 0 {
		cfg.MaxSessionAge = 120 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.DebugBasePort <= 0 {
		cfg.DebugBasePort = 9222
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ports := make(chan int, cfg.MaxSessions)
	for i := 0; i < cfg.MaxSessions; i++ {
		ports <- cfg.DebugBasePort + i
	}

	return &Pool{
		live:   make(map[string]*Session),
		ports:  ports,
		cfg:    cfg,
		launch: launch,
		clock:  clock,
		logger: logger,
	}
}

// Acquire launches a new session, or fails immediately with
// scan.ErrPoolExhausted when the live-session count is at the ceiling.
// No browser is launched on a rejected acquire.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if len(p.live)+p.reserved >= p.cfg.MaxSessions {
		p.mu.Unlock()
		telemetry.ObservePoolExhausted()
		return nil, scan.ErrPoolExhausted
	}
	p.reserved++
	p.mu.Unlock()

	port := <-p.ports
	session, err := p.launch(ctx, port, p.clock.Now())
	if err != nil {
		p.ports <- port
		p.mu.Lock()
		p.reserved--
		p.mu.Unlock()
		return nil, fmt.Errorf("launch browser session: %w", err)
	}

	session.onClose = func() {
		p.ports <- port
		p.mu.Lock()
		delete(p.live, session.id)
		size := len(p.live)
		p.mu.Unlock()
		telemetry.SetPoolSessions(size)
	}

	p.mu.Lock()
	p.reserved--
	p.live[session.id] = session
	size := len(p.live)
	p.mu.Unlock()

	telemetry.SetPoolSessions(size)
	p.logger.Debug("session acquired",
		zap.String("session_id", session.id),
		zap.Int("debug_port", port),
		zap.Int("live", size),
	)
	return session, nil
}

// Release closes the session and returns its slot. Releasing an
// already-released or already-swept session is a no-op.
func (p *Pool) Release(session *Session) {
	if session == nil {
		return
	}
	session.Close()
}

// Live reports the number of live sessions.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Run force-closes over-age sessions on a fixed interval until the context
// finishes. This bounds leakage from a caller that never releases.
func (p *Pool) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

func (p *Pool) sweep() {
	now := p.clock.Now()

	p.mu.Lock()
	var expired []*Session
	for _, session := range p.live {
		if now.Sub(session.createdAt) > p.cfg.MaxSessionAge {
			expired = append(expired, session)
		}
	}
	p.mu.Unlock()

	for _, session := range expired {
		p.logger.Warn("sweeping over-age session",
			zap.String("session_id", session.id),
			zap.Duration("age", now.Sub(session.createdAt)),
		)
		session.Close()
	}
}

// Close tears down every live session.
func (p *Pool) Close() {
	p.mu.Lock()
	sessions := make([]*Session, 0, len(p.live))
	for _, session := range p.live {
		sessions = append(sessions, session)
	}
	p.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
}
