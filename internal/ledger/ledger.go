// Package ledger keeps a durable PostgreSQL mirror of every job status write.
// The Redis status store stays authoritative for clients; the ledger feeds the
// liveness watchdog and operational queries.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/cuongbtq/panel-one/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	job_id        UUID PRIMARY KEY,
	status        TEXT NOT NULL,
	input_count   INTEGER NOT NULL DEFAULT 0,
	input_urls    TEXT[] NOT NULL DEFAULT '{}',
	result_url    TEXT,
	error_message TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_status_updated
	ON generation_jobs (status, updated_at);
`

// Entry is one ledger row
type Entry struct {
	JobID        string         `db:"job_id"`
	Status       string         `db:"status"`
	InputCount   int            `db:"input_count"`
	InputURLs    pq.StringArray `db:"input_urls"`
	ResultURL    sql.NullString `db:"result_url"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	CompletedAt  sql.NullTime   `db:"completed_at"`
}

// Ledger is the narrow surface the gateway, pipeline and watchdog depend on
type Ledger interface {
	Insert(ctx context.Context, jobID string, inputURLs []string) error
	Record(ctx context.Context, rec domain.Record) error
	Delete(ctx context.Context, jobID string) error
	ListStale(ctx context.Context, before time.Time, limit int) ([]Entry, error)
}

// Postgres implements Ledger on sqlx
type Postgres struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgres creates a ledger backed by db
func NewPostgres(db *sqlx.DB, logger *slog.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the ledger table and index when missing
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Insert records a freshly queued job
func (p *Postgres) Insert(ctx context.Context, jobID string, inputURLs []string) error {
	query := `
		INSERT INTO generation_jobs (job_id, status, input_count, input_urls)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO NOTHING
	`

	_, err := p.db.ExecContext(ctx, query, jobID, string(domain.StatusQueued), len(inputURLs), pq.StringArray(inputURLs))
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return nil
}

// Record mirrors a status write; completed_at is stamped on the first terminal write
func (p *Postgres) Record(ctx context.Context, rec domain.Record) error {
	query := `
		INSERT INTO generation_jobs (job_id, status, result_url, error_message, updated_at, completed_at)
		VALUES ($1, $2::text, NULLIF($3, ''), NULLIF($4, ''), NOW(), CASE WHEN $5 THEN NOW() END)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
			result_url = EXCLUDED.result_url,
			error_message = EXCLUDED.error_message,
			updated_at = NOW(),
			completed_at = COALESCE(generation_jobs.completed_at, EXCLUDED.completed_at)
	`

	_, err := p.db.ExecContext(ctx, query,
		rec.JobID,
		string(rec.Status),
		rec.ResultURL,
		rec.ErrorMessage,
		rec.Status.IsTerminal(),
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger status: %w", err)
	}
	return nil
}

// Delete removes a job that never made it onto the queue
func (p *Postgres) Delete(ctx context.Context, jobID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM generation_jobs WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to delete ledger entry: %w", err)
	}
	return nil
}

// ListStale returns non-terminal jobs whose last update is older than before, oldest first
func (p *Postgres) ListStale(ctx context.Context, before time.Time, limit int) ([]Entry, error) {
	query := `
		SELECT job_id, status, input_count, input_urls, result_url, error_message,
			created_at, updated_at, completed_at
		FROM generation_jobs
		WHERE status NOT IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at
		LIMIT $4
	`

	var entries []Entry
	err := p.db.SelectContext(ctx, &entries, query,
		string(domain.StatusCompleted), string(domain.StatusFailed), before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return entries, nil
}

// Get returns a single ledger entry
func (p *Postgres) Get(ctx context.Context, jobID string) (*Entry, error) {
	query := `
		SELECT job_id, status, input_count, input_urls, result_url, error_message,
			created_at, updated_at, completed_at
		FROM generation_jobs
		WHERE job_id = $1
	`

	var entry Entry
	if err := p.db.GetContext(ctx, &entry, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return &entry, nil
}
