// Package postgres stores registry rows in a Postgres table as JSONB documents.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sro-registry-crawler/internal/metrics"
	"github.com/JakeFAU/sro-registry-crawler/internal/registry"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for member rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Writer inserts rows keyed by (service, id); existing members are left untouched.
type Writer struct {
	pool    execCloser
	table   string
	service string
	runID   string
	now     func() time.Time
}

var _ registry.Writer = (*Writer)(nil)

// New connects a pool and returns a Writer for service.
func New(ctx context.Context, cfg Config, service, runID string) (*Writer, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	w, err := NewWithPool(pool, cfg.Table, service, runID)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return w, nil
}

// NewWithPool constructs a Writer from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table, service, runID string) (*Writer, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "sro_members"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	metrics.Init()
	return &Writer{
		pool:    pool,
		table:   table,
		service: service,
		runID:   runID,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the table when it does not exist.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	service    TEXT        NOT NULL,
	id         BIGINT      NOT NULL,
	run_id     TEXT        NOT NULL,
	payload    JSONB       NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (service, id)
)`, w.table)
	if _, err := w.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}
	return nil
}

// Write inserts rows and returns how many were new.
func (w *Writer) Write(ctx context.Context, rows []registry.Row) (int, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (service, id, run_id, payload, fetched_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (service, id) DO NOTHING`, w.table)

	fetchedAt := w.now()
	inserted := 0
	for _, r := range rows {
		payload, err := json.Marshal(r)
		if err != nil {
			return inserted, fmt.Errorf("marshal member %d: %w", r.Key(), err)
		}
		tag, err := w.pool.Exec(ctx, query, w.service, r.Key(), w.runID, payload, fetchedAt)
		if err != nil {
			return inserted, fmt.Errorf("insert member %d: %w", r.Key(), err)
		}
		inserted += int(tag.RowsAffected())
	}
	metrics.ObserveWrite("postgres", inserted)
	return inserted, nil
}

// Close releases the underlying pool resources.
func (w *Writer) Close() error {
	if w == nil || w.pool == nil {
		return nil
	}
	w.pool.Close()
	return nil
}
