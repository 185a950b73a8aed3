// Package postgres mirrors scraped issue records into a relational table so
// downstream analysis can query them without re-parsing batch files.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fuzztriage/issue-harvester/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// IssueStoreConfig controls the connection pool and target table.
type IssueStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// IssueStore upserts issue records into Postgres.
type IssueStore struct {
	pool  execCloser
	table string
}

// NewIssueStore connects a pool using the provided config.
func NewIssueStore(ctx context.Context, cfg IssueStoreConfig) (*IssueStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "issues"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &IssueStore{pool: pool, table: table}, nil
}

// NewIssueStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewIssueStoreWithPool(pool execCloser, table string) (*IssueStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "issues"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &IssueStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *IssueStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRecords upserts each record. The full field map lands in a JSONB
// payload column; re-scrapes overwrite the previous payload for the ID.
func (s *IssueStore) StoreRecords(ctx context.Context, records []*scraper.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("issue store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, url, error, title, payload)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	error = EXCLUDED.error,
	title = EXCLUDED.title,
	payload = EXCLUDED.payload`, s.table)

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("record id is required")
		}
		payload, err := json.Marshal(rec.Fields())
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", rec.ID, err)
		}
		if _, err := s.pool.Exec(ctx, query, rec.ID, rec.URL, rec.Error, rec.Title, payload); err != nil {
			return fmt.Errorf("insert record %s: %w", rec.ID, err)
		}
	}
	return nil
}
