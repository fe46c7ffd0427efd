package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/roach88/dgate/internal/core"
	"github.com/roach88/dgate/internal/queryir"
)

// postgresSchema mirrors schema.sql. Applied by OpenPostgres.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS runs (
    tenant_id        TEXT NOT NULL,
    namespace_id     TEXT NOT NULL,
    run_id           TEXT NOT NULL,
    scenario_id      TEXT NOT NULL,
    status           TEXT NOT NULL,
    current_stage_id TEXT NOT NULL,
    version          BIGINT NOT NULL,
    state            TEXT NOT NULL,
    PRIMARY KEY (tenant_id, namespace_id, run_id)
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(tenant_id, namespace_id, status);
CREATE TABLE IF NOT EXISTS run_versions (
    tenant_id    TEXT NOT NULL,
    namespace_id TEXT NOT NULL,
    run_id       TEXT NOT NULL,
    version      BIGINT NOT NULL,
    status       TEXT NOT NULL,
    decisions    INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, namespace_id, run_id, version),
    FOREIGN KEY (tenant_id, namespace_id, run_id) REFERENCES runs(tenant_id, namespace_id, run_id)
);
`

// PostgresStore persists run state in Postgres. Save semantics match the
// SQLite Store.
type PostgresStore struct {
	db   *sql.DB
	runs runTable
}

// NewPostgresStore wraps an open database handle. The schema must already
// exist; see OpenPostgres.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, runs: runTable{db: db, numbered: true}}
}

// OpenPostgres connects with a lib/pq DSN and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return NewPostgresStore(db), nil
}

// Close closes the database connection.
func (p *PostgresStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// Load returns the stored state of a run, or (nil, nil) if absent.
func (p *PostgresStore) Load(ctx context.Context, key core.RunKey) (*core.RunState, error) {
	return p.runs.load(ctx, key)
}

// Save persists state under compare-and-swap on its version.
func (p *PostgresStore) Save(ctx context.Context, state *core.RunState) error {
	return p.runs.save(ctx, state)
}

// List returns the runs of a namespace ordered by run id.
func (p *PostgresStore) List(ctx context.Context, tenantID, namespaceID string) ([]RunSummary, error) {
	return p.runs.query(ctx, queryir.Namespace(tenantID, namespaceID))
}

// Query returns the runs matching q ordered by run id.
func (p *PostgresStore) Query(ctx context.Context, q queryir.Select) ([]RunSummary, error) {
	return p.runs.query(ctx, q)
}
