// Package postgres provides Postgres-backed persistence implementations.
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

	"github.com/Chanseok/crawlMatterCertis-sub005/internal/catalog"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Hasher digests record content so unchanged rows can be skipped on upsert.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config controls the Postgres connection pool used for catalog records.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Store persists catalog records in Postgres, keyed by URL with positional
// columns for gap detection queries.
type Store struct {
	pool   querier
	table  string
	hasher Hasher
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg Config, hasher Hasher) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	table := cfg.Table
	if table == "" {
		table = "catalog_records"
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
	return &Store{pool: pool, table: table, hasher: hasher}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool querier, table string, hasher Hasher) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if table == "" {
		table = "catalog_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, hasher: hasher}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CountExisting returns how many records are stored for a pageId.
func (s *Store) CountExisting(ctx context.Context, pageID int) (int, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE page_id = $1`, s.table)
	var n int
	if err := s.pool.QueryRow(ctx, query, pageID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records for page %d: %w", pageID, err)
	}
	return n, nil
}

// ExistingSlotIndices returns the stored slot indices for a pageId, ascending.
func (s *Store) ExistingSlotIndices(ctx context.Context, pageID int) ([]int, error) {
	query := fmt.Sprintf(
		`SELECT index_in_page FROM %s WHERE page_id = $1 ORDER BY index_in_page`, s.table)
	rows, err := s.pool.Query(ctx, query, pageID)
	if err != nil {
		return nil, fmt.Errorf("list slot indices for page %d: %w", pageID, err)
	}
	defer rows.Close()

	var indices []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan slot index: %w", err)
		}
		indices = append(indices, idx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list slot indices for page %d: %w", pageID, err)
	}
	return indices, nil
}

// MaxKnownPageID returns the largest stored pageId; ok is false when the
// table is empty.
func (s *Store) MaxKnownPageID(ctx context.Context) (int, bool, error) {
	query := fmt.Sprintf(`SELECT max(page_id) FROM %s`, s.table)
	var max *int
	if err := s.pool.QueryRow(ctx, query).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("max known page: %w", err)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// Save upserts a batch keyed by URL. Rows whose content hash and position
// are unchanged are skipped, so replaying an old batch is a no-op.
func (s *Store) Save(ctx context.Context, records []catalog.Record) (catalog.SaveOutcome, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (url, page_id, index_in_page, title, detail, content_hash, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (url) DO UPDATE SET
	page_id = EXCLUDED.page_id,
	index_in_page = EXCLUDED.index_in_page,
	title = EXCLUDED.title,
	detail = EXCLUDED.detail,
	content_hash = EXCLUDED.content_hash,
	fetched_at = EXCLUDED.fetched_at
WHERE %s.content_hash IS DISTINCT FROM EXCLUDED.content_hash
	OR %s.page_id <> EXCLUDED.page_id
	OR %s.index_in_page <> EXCLUDED.index_in_page
RETURNING (xmax = 0) AS inserted`, s.table, s.table, s.table, s.table)

	var out catalog.SaveOutcome
	for _, rec := range records {
		if rec.URL == "" {
			out.Failed++
			continue
		}
		detailJSON, hash, err := s.encode(rec)
		if err != nil {
			return out, fmt.Errorf("encode record %q: %w", rec.URL, err)
		}
		var inserted bool
		err = s.pool.QueryRow(ctx, query,
			rec.URL, rec.PageID, rec.IndexInPage, rec.Title,
			detailJSON, hash, rec.FetchedAt,
		).Scan(&inserted)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Conflict row matched on hash and position; nothing written.
			out.Unchanged++
		case err != nil:
			return out, fmt.Errorf("upsert record %q: %w", rec.URL, err)
		case inserted:
			out.Added++
		default:
			out.Updated++
		}
	}
	return out, nil
}

// encode produces the detail JSON and the content hash covering everything
// except positional metadata and the fetch timestamp.
func (s *Store) encode(rec catalog.Record) ([]byte, string, error) {
	detailJSON, err := json.Marshal(rec.Detail)
	if err != nil {
		return nil, "", fmt.Errorf("marshal detail: %w", err)
	}
	content, err := json.Marshal(struct {
		Title  string          `json:"title"`
		Detail json.RawMessage `json:"detail"`
	}{Title: rec.Title, Detail: detailJSON})
	if err != nil {
		return nil, "", fmt.Errorf("marshal content: %w", err)
	}
	hash, err := s.hasher.Hash(content)
	if err != nil {
		return nil, "", fmt.Errorf("hash content: %w", err)
	}
	return detailJSON, hash, nil
}
