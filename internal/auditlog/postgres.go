package auditlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS scrape_audit (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL,
	job_type    TEXT NOT NULL,
	target      TEXT NOT NULL,
	source      TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
)`

const insertSQL = `
INSERT INTO scrape_audit (job_id, job_type, target, source, status, duration_ms, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

// Execer is the slice of the pgx pool the audit log uses.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres implements Logger on a pgx connection pool.
type Postgres struct {
	db     Execer
	logger *zap.Logger
}

// NewPostgres connects a pool and ensures the audit table exists.
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	p := &Postgres{db: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresWithDB wraps an existing connection, used in tests.
func NewPostgresWithDB(db Execer, logger *zap.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Record inserts one audit row.
func (p *Postgres) Record(ctx context.Context, entry Entry) error {
	_, err := p.db.Exec(ctx, insertSQL,
		entry.JobID,
		entry.JobType,
		entry.Target,
		entry.Source,
		entry.Status,
		entry.DurationMS,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.db.Close()
}
