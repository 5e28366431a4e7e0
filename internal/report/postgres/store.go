// Package postgres provides a Postgres-backed report store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitewarden/sitewarden/internal/report"
	"github.com/sitewarden/sitewarden/internal/scan"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for report rows.
type Config struct {
	DSN             string
	Table           string
	MaxAge          time.Duration
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists reports in a Postgres table:
//
//	CREATE TABLE reports (
//	    id TEXT PRIMARY KEY,
//	    payload JSONB NOT NULL,
//	    source_url TEXT,
//	    created_at TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool   querier
	table  string
	maxAge time.Duration
	clock  scan.Clock
}

// New creates a Postgres-backed report store using the provided config.
func New(ctx context.Context, cfg Config, clock scan.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("reports.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg, clock)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, cfg Config, clock scan.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = "reports"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Store{pool: pool, table: table, maxAge: maxAge, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Put inserts a report row and returns its generated identifier.
func (s *Store) Put(ctx context.Context, data any, sourceURL string) (string, error) {
	id, err := report.NewID()
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal report payload: %w", err)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (id, payload, source_url, created_at) VALUES ($1, $2, $3, $4)`,
		s.table,
	)
	if _, err := s.pool.Exec(ctx, query, id, payload, sourceURL, s.clock.Now()); err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	return id, nil
}

// Get fetches a non-expired report by identifier.
func (s *Store) Get(ctx context.Context, id string) (report.Stored, error) {
	query := fmt.Sprintf(
		`SELECT payload, source_url, created_at FROM %s WHERE id = $1 AND created_at > $2`,
		s.table,
	)
	cutoff := s.clock.Now().Add(-s.maxAge)

	var (
		payload   []byte
		sourceURL string
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, query, id, cutoff).Scan(&payload, &sourceURL, &createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return report.Stored{}, report.ErrNotFound
	}
	if err != nil {
		return report.Stored{}, fmt.Errorf("select report: %w", err)
	}

	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return report.Stored{}, fmt.Errorf("unmarshal report payload: %w", err)
	}
	return report.Stored{ID: id, Data: data, SourceURL: sourceURL, CreatedAt: createdAt}, nil
}

// Len counts non-expired report rows.
func (s *Store) Len(ctx context.Context) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE created_at > $1`, s.table)
	cutoff := s.clock.Now().Add(-s.maxAge)

	var n int
	if err := s.pool.QueryRow(ctx, query, cutoff).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

// Sweep deletes expired rows. Capacity eviction is left to the database
// retention job; age is the only bound enforced here.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at <= $1`, s.table)
	cutoff := s.clock.Now().Add(-s.maxAge)

	tag, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep reports: %w", err)
	}
	return tag.RowsAffected(), nil
}
