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

	"github.com/apiharbor/docpipe/internal/docjob"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStore persists jobs in Postgres. JSON-shaped attributes (urls, wishlist,
// result, error) live in jsonb columns.
type JobStore struct {
	pool  querier
	table string
}

var _ docjob.JobStore = (*JobStore)(nil)

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
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
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for
// testing).
func NewJobStoreWithPool(pool querier, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	tenant_id   TEXT NOT NULL,
	url         TEXT NOT NULL,
	urls        JSONB,
	wishlist    JSONB,
	status      TEXT NOT NULL,
	progress    INT NOT NULL DEFAULT 0,
	result      JSONB,
	error       JSONB,
	corpus_key  TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	return nil
}

const jobColumns = "id, tenant_id, url, urls, wishlist, status, progress, result, error, corpus_key, created_at, updated_at"

// Create inserts a new job row.
func (s *JobStore) Create(ctx context.Context, job *docjob.Job) error {
	urls, wishlist, result, jobErr, err := marshalJSONColumns(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`, s.table, jobColumns)
	args := []any{
		job.ID, job.TenantID, job.URL, urls, wishlist,
		string(job.Status), job.Progress, result, jobErr,
		job.CorpusKey, job.CreatedAt, job.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns a job scoped to its tenant.
func (s *JobStore) Get(ctx context.Context, tenantID, jobID string) (*docjob.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s WHERE id = $1 AND tenant_id = $2`, jobColumns, s.table)
	return scanJob(s.pool.QueryRow(ctx, query, jobID, tenantID))
}

// Update overwrites a job row.
func (s *JobStore) Update(ctx context.Context, job *docjob.Job) error {
	urls, wishlist, result, jobErr, err := marshalJSONColumns(job)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	url = $3, urls = $4, wishlist = $5, status = $6, progress = $7,
	result = $8, error = $9, corpus_key = $10, updated_at = $11
WHERE id = $1 AND tenant_id = $2`, s.table)
	args := []any{
		job.ID, job.TenantID, job.URL, urls, wishlist,
		string(job.Status), job.Progress, result, jobErr,
		job.CorpusKey, job.UpdatedAt,
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docjob.ErrNotFound
	}
	return nil
}

// List returns a tenant's jobs, newest first.
func (s *JobStore) List(ctx context.Context, tenantID string) ([]*docjob.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s WHERE tenant_id = $1 ORDER BY created_at DESC`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListByStatus returns jobs in any of the given statuses last updated before
// the cutoff.
func (s *JobStore) ListByStatus(ctx context.Context, statuses []docjob.Status, updatedBefore time.Time) ([]*docjob.Job, error) {
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	query := fmt.Sprintf(`
SELECT %s FROM %s WHERE status = ANY($1) AND updated_at < $2`, jobColumns, s.table)
	rows, err := s.pool.Query(ctx, query, names, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// Delete removes a job row scoped to its tenant.
func (s *JobStore) Delete(ctx context.Context, tenantID, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND tenant_id = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, tenantID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return docjob.ErrNotFound
	}
	return nil
}

// FindCompletedByURL returns the most recent completed job for the URL.
func (s *JobStore) FindCompletedByURL(ctx context.Context, tenantID, normalizedURL string) (*docjob.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE tenant_id = $1 AND url = $2 AND status = $3
ORDER BY created_at DESC LIMIT 1`, jobColumns, s.table)
	return scanJob(s.pool.QueryRow(ctx, query, tenantID, normalizedURL, string(docjob.StatusCompleted)))
}

func marshalJSONColumns(job *docjob.Job) (urls, wishlist, result, jobErr []byte, err error) {
	if len(job.URLs) > 0 {
		if urls, err = json.Marshal(job.URLs); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal urls: %w", err)
		}
	}
	if len(job.Wishlist) > 0 {
		if wishlist, err = json.Marshal(job.Wishlist); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal wishlist: %w", err)
		}
	}
	if job.Result != nil {
		if result, err = json.Marshal(job.Result); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal result: %w", err)
		}
	}
	if job.Error != nil {
		if jobErr, err = json.Marshal(job.Error); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal error: %w", err)
		}
	}
	return urls, wishlist, result, jobErr, nil
}

func scanJob(row pgx.Row) (*docjob.Job, error) {
	var (
		job                          docjob.Job
		status                       string
		urls, wishlist, result, jerr []byte
	)
	err := row.Scan(&job.ID, &job.TenantID, &job.URL, &urls, &wishlist,
		&status, &job.Progress, &result, &jerr,
		&job.CorpusKey, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docjob.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Status = docjob.Status(status)
	if len(urls) > 0 {
		if err := json.Unmarshal(urls, &job.URLs); err != nil {
			return nil, fmt.Errorf("unmarshal urls: %w", err)
		}
	}
	if len(wishlist) > 0 {
		if err := json.Unmarshal(wishlist, &job.Wishlist); err != nil {
			return nil, fmt.Errorf("unmarshal wishlist: %w", err)
		}
	}
	if len(result) > 0 {
		job.Result = &docjob.Result{}
		if err := json.Unmarshal(result, job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	if len(jerr) > 0 {
		job.Error = &docjob.Error{}
		if err := json.Unmarshal(jerr, job.Error); err != nil {
			return nil, fmt.Errorf("unmarshal error: %w", err)
		}
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*docjob.Job, error) {
	var out []*docjob.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}
