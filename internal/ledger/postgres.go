package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mwestcott/b24import/internal/importer"
)

// Store mirrors ledger records into Postgres so run history stays
// queryable after the run's CSV file has been handed to the operator.
// The mirror is optional: runs work identically without a database.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the mirror tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS import_runs (
			id UUID PRIMARY KEY,
			file_name TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			finished_at TIMESTAMPTZ,
			rows_total INT,
			primary_created INT,
			primary_found INT,
			primary_failed INT,
			dependents_created INT,
			dependents_skipped INT
		);
		CREATE TABLE IF NOT EXISTS import_run_records (
			run_id UUID NOT NULL REFERENCES import_runs(id) ON DELETE CASCADE,
			row_ordinal INT NOT NULL,
			dedup_value TEXT,
			primary_payload JSONB,
			primary_outcome TEXT NOT NULL,
			dependent_payload JSONB,
			dependent_outcome TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (run_id, row_ordinal)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure ledger schema: %w", err)
	}
	return nil
}

// StartRun registers a run before its first row.
func (s *Store) StartRun(ctx context.Context, runID uuid.UUID, fileName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO import_runs (id, file_name) VALUES ($1, $2)`,
		runID, fileName,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final counters for a run.
func (s *Store) FinishRun(ctx context.Context, runID uuid.UUID, sum *importer.Summary) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE import_runs SET
			finished_at = now(),
			rows_total = $2,
			primary_created = $3,
			primary_found = $4,
			primary_failed = $5,
			dependents_created = $6,
			dependents_skipped = $7
		WHERE id = $1`,
		runID, sum.Rows, sum.PrimaryCreated, sum.PrimaryFound,
		sum.PrimaryFailed, sum.DependentsMade, sum.DependentsSkips,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// Mirror returns an importer.Ledger that inserts each record under the
// given run. Like the CSV ledger it is a single-writer, per-row sink.
func (s *Store) Mirror(ctx context.Context, runID uuid.UUID) importer.Ledger {
	return &pgMirror{store: s, ctx: ctx, runID: runID}
}

type pgMirror struct {
	store *Store
	ctx   context.Context
	runID uuid.UUID
}

func (m *pgMirror) Append(rec importer.Record) error {
	_, err := m.store.pool.Exec(m.ctx, `
		INSERT INTO import_run_records
			(run_id, row_ordinal, dedup_value, primary_payload, primary_outcome, dependent_payload, dependent_outcome)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.runID,
		rec.Ordinal,
		textOrNull(rec.DedupValue),
		jsonOrNull(rec.PrimaryPayload),
		rec.PrimaryRef.Outcome(),
		jsonOrNull(rec.DependentPayload),
		rec.DependentRef.Outcome(),
	)
	if err != nil {
		return fmt.Errorf("mirror ledger record %d: %w", rec.Ordinal, err)
	}
	return nil
}

// RunInfo summarizes one past run for listings.
type RunInfo struct {
	ID                uuid.UUID  `json:"id"`
	FileName          string     `json:"fileName"`
	StartedAt         time.Time  `json:"startedAt"`
	FinishedAt        *time.Time `json:"finishedAt,omitempty"`
	Rows              int        `json:"rows"`
	PrimaryCreated    int        `json:"primaryCreated"`
	PrimaryFound      int        `json:"primaryFound"`
	PrimaryFailed     int        `json:"primaryFailed"`
	DependentsCreated int        `json:"dependentsCreated"`
	DependentsSkipped int        `json:"dependentsSkipped"`
}

// ListRuns returns past runs, most recent first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, file_name, started_at, finished_at,
			COALESCE(rows_total, 0),
			COALESCE(primary_created, 0),
			COALESCE(primary_found, 0),
			COALESCE(primary_failed, 0),
			COALESCE(dependents_created, 0),
			COALESCE(dependents_skipped, 0)
		FROM import_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var info RunInfo
		var finished pgtype.Timestamptz
		if err := rows.Scan(
			&info.ID, &info.FileName, &info.StartedAt, &finished,
			&info.Rows, &info.PrimaryCreated, &info.PrimaryFound,
			&info.PrimaryFailed, &info.DependentsCreated, &info.DependentsSkipped,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			info.FinishedAt = &t
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func jsonOrNull(p importer.Payload) []byte {
	if len(p) == 0 {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return data
}
