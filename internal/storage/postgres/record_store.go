// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/histocoin/artifact-miner/internal/artifact"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// uniqueViolation is the Postgres SQLSTATE raised when a unique index
// rejects an insert.
const uniqueViolation = "23505"

// RecordStoreConfig controls the Postgres connection pool used for
// artifact and source rows.
type RecordStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RecordStore persists artifact records and sources in Postgres. The
// artifacts table carries a unique index on (source_id, title) and the
// sources table a unique index on base_url; both surface as
// artifact.ErrDuplicate.
type RecordStore struct {
	pool  pgxPool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "artifacts"
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
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewRecordStoreWithPool(pool pgxPool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "artifacts"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// FindRecord returns the record for (sourceID, title) or artifact.ErrNotFound.
func (s *RecordStore) FindRecord(ctx context.Context, sourceID, title string) (artifact.Record, error) {
	query := fmt.Sprintf(`
SELECT id, source_id, title, description, metadata, image_url, contributions, created_at
FROM %s
WHERE source_id = $1 AND title = $2`, s.table)

	return s.scanRecord(s.pool.QueryRow(ctx, query, sourceID, title))
}

// InsertRecord persists a candidate. A unique-index collision on
// (source_id, title) maps to artifact.ErrDuplicate.
func (s *RecordStore) InsertRecord(ctx context.Context, cand artifact.Candidate) (artifact.Record, error) {
	if err := cand.Validate(); err != nil {
		return artifact.Record{}, err
	}
	metadataJSON, err := json.Marshal(cand.Metadata)
	if err != nil {
		return artifact.Record{}, fmt.Errorf("marshal metadata: %w", err)
	}

	rec := artifact.Record{
		ID:          uuid.NewString(),
		SourceID:    cand.SourceID,
		Title:       cand.Title,
		Description: cand.Description,
		Metadata:    cand.Metadata,
		ImageURL:    cand.ImageURL,
		CreatedAt:   time.Now().UTC(),
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, source_id, title, description, metadata, image_url, contributions, created_at)
VALUES ($1,$2,$3,$4,$5,$6,'[]'::jsonb,$7)`, s.table)

	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.SourceID, rec.Title, rec.Description, metadataJSON, rec.ImageURL, rec.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return artifact.Record{}, artifact.ErrDuplicate
		}
		return artifact.Record{}, fmt.Errorf("insert artifact: %w", err)
	}
	return rec, nil
}

// ListRecords returns the most recent records, newest first.
func (s *RecordStore) ListRecords(ctx context.Context, limit int) ([]artifact.Record, error) {
	query := fmt.Sprintf(`
SELECT id, source_id, title, description, metadata, image_url, contributions, created_at
FROM %s
ORDER BY created_at DESC
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []artifact.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

// CountRecords reports the total number of stored records.
func (s *RecordStore) CountRecords(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, s.table)
	var count int64
	if err := s.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return count, nil
}

// AppendContribution appends one entry to a record's contribution list.
func (s *RecordStore) AppendContribution(ctx context.Context, recordID string, contrib artifact.Contribution) error {
	payload, err := json.Marshal([]artifact.Contribution{contrib})
	if err != nil {
		return fmt.Errorf("marshal contribution: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET contributions = COALESCE(contributions, '[]'::jsonb) || $1::jsonb
WHERE id = $2`, s.table)

	tag, err := s.pool.Exec(ctx, query, payload, recordID)
	if err != nil {
		return fmt.Errorf("append contribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

// ListSources returns sources ordered by creation time. A non-empty
// filterID restricts the result to that single source.
func (s *RecordStore) ListSources(ctx context.Context, filterID string) ([]artifact.Source, error) {
	query := `
SELECT id, name, base_url, created_at
FROM sources
ORDER BY created_at`
	args := []any{}
	if filterID != "" {
		query = `
SELECT id, name, base_url, created_at
FROM sources
WHERE id = $1
ORDER BY created_at`
		args = append(args, filterID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []artifact.Source
	for rows.Next() {
		var src artifact.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.BaseURL, &src.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return out, nil
}

// CreateSource inserts a source; baseURL must already be normalized. A
// base_url collision maps to artifact.ErrDuplicate.
func (s *RecordStore) CreateSource(ctx context.Context, name, baseURL string) (artifact.Source, error) {
	src := artifact.Source{
		ID:        uuid.NewString(),
		Name:      name,
		BaseURL:   baseURL,
		CreatedAt: time.Now().UTC(),
	}
	query := `
INSERT INTO sources (id, name, base_url, created_at)
VALUES ($1,$2,$3,$4)`

	_, err := s.pool.Exec(ctx, query, src.ID, src.Name, src.BaseURL, src.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return artifact.Source{}, artifact.ErrDuplicate
		}
		return artifact.Source{}, fmt.Errorf("insert source: %w", err)
	}
	return src, nil
}

// DeleteSource removes a source or returns artifact.ErrNotFound.
func (s *RecordStore) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

func (s *RecordStore) scanRecord(row pgx.Row) (artifact.Record, error) {
	var (
		rec               artifact.Record
		metadataJSON      []byte
		contributionsJSON []byte
	)
	err := row.Scan(&rec.ID, &rec.SourceID, &rec.Title, &rec.Description,
		&metadataJSON, &rec.ImageURL, &contributionsJSON, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return artifact.Record{}, artifact.ErrNotFound
		}
		return artifact.Record{}, fmt.Errorf("scan artifact: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &rec.Metadata); err != nil {
			return artifact.Record{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(contributionsJSON) > 0 {
		if err := json.Unmarshal(contributionsJSON, &rec.Contributions); err != nil {
			return artifact.Record{}, fmt.Errorf("decode contributions: %w", err)
		}
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
