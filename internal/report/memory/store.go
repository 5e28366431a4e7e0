// Package memory provides the in-memory report store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/report"
	"github.com/sitewarden/sitewarden/internal/scan"
	"github.com/sitewarden/sitewarden/internal/telemetry"
)

// Config bounds the store.
type Config struct {
	MaxAge        time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

// Store is a time-bounded keyed cache of completed reports.
type Store struct {
	mu      sync.Mutex
	entries map[string]report.Stored
	cfg     Config
	clock   scan.Clock
	logger  *zap.Logger
}

// New creates a Store.
func New(cfg Config, clock scan.Clock, logger *zap.Logger) *Store {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 1000
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	return &Store{
		entries: make(map[string]report.Stored),
		cfg:     cfg,
		clock:   clock,
		logger:  logger,
	}
}

// Put stores a report and returns its generated identifier.
func (s *Store) Put(_ context.Context, data any, sourceURL string) (string, error) {
	id, err := report.NewID()
	if err != nil {
		return "", err
	}
	entry := report.Stored{
		ID:        id,
		Data:      data,
		CreatedAt: s.clock.Now(),
		SourceURL: sourceURL,
	}

	s.mu.Lock()
	s.entries[id] = entry
	size := len(s.entries)
	s.mu.Unlock()

	telemetry.SetReportStoreEntries(size)
	return id, nil
}

// Get fetches a report by identifier. Expired entries are treated as
// missing even if the sweep has not collected them yet.
func (s *Store) Get(_ context.Context, id string) (report.Stored, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return report.Stored{}, report.ErrNotFound
	}
	if s.clock.Now().Sub(entry.CreatedAt) > s.cfg.MaxAge {
		return report.Stored{}, report.ErrNotFound
	}
	return entry, nil
}

// Len reports the number of held entries.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Run sweeps expired and surplus entries until the context finishes.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if now.Sub(entry.CreatedAt) > s.cfg.MaxAge {
			delete(s.entries, id)
			removed++
		}
	}

	// Capacity eviction drops the oldest surplus by insertion time.
	if len(s.entries) > s.cfg.MaxEntries {
		ordered := make([]report.Stored, 0, len(s.entries))
		for _, entry := range s.entries {
			ordered = append(ordered, entry)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		})
		surplus := len(s.entries) - s.cfg.MaxEntries
		for _, entry := range ordered[:surplus] {
			delete(s.entries, entry.ID)
			removed++
		}
	}

	telemetry.SetReportStoreEntries(len(s.entries))
	if removed > 0 {
		s.logger.Debug("report store sweep", zap.Int("entries_removed", removed))
	}
}
