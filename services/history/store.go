package history

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleettag/pkg/bus"
	"fleettag/pkg/db"
)

// Recorder persists run events. Every method must be idempotent because
// JetStream redelivers unacknowledged messages.
type Recorder interface {
	RecordRunStarted(ctx context.Context, evt bus.RunStarted) error
	RecordFile(ctx context.Context, evt bus.FileFinished) error
	RecordRunFinished(ctx context.Context, evt bus.RunFinished) error
}

// PGStore writes events to Postgres through pgx.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore wraps pool.
func NewPGStore(pool *pgxpool.Pool) (*PGStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) RecordRunStarted(ctx context.Context, evt bus.RunStarted) error {
	engines, err := jsonText(evt.Engines)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, s.pool, `
INSERT INTO runs (id, stamp, engines, status, started_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (id) DO UPDATE
SET stamp = EXCLUDED.stamp, engines = EXCLUDED.engines, started_at = EXCLUDED.started_at
`, evt.RunID, evt.Stamp, engines, RunStatusRunning, evt.StartedAt)
	return err
}

// RecordFile also creates a placeholder run row so file events that overtake
// their run's start event still satisfy the foreign key.
func (s *PGStore) RecordFile(ctx context.Context, evt bus.FileFinished) error {
	missing, err := jsonText(evt.MissingIDs)
	if err != nil {
		return err
	}
	unreachable, err := jsonText(evt.Unreachable)
	if err != nil {
		return err
	}
	engines, err := jsonText(evt.Engines)
	if err != nil {
		return err
	}
	archive, err := jsonText(evt.ArchiveKeys)
	if err != nil {
		return err
	}

	if _, err := db.Exec(ctx, s.pool, `
INSERT INTO runs (id, stamp, engines, status, started_at)
VALUES ($1, '', '[]'::jsonb, $2, $3)
ON CONFLICT (id) DO NOTHING
`, evt.RunID, RunStatusRunning, evt.StartedAt); err != nil {
		return err
	}

	_, err = db.Exec(ctx, s.pool, `
INSERT INTO file_results (
	id, run_id, path, object_type, category, rows, success, error,
	total_updates, total_failures, missing_ids, unreachable, engines, archive_keys,
	started_at, finished_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12::jsonb, $13::jsonb, $14::jsonb, $15, $16)
ON CONFLICT (id) DO NOTHING
`, evt.FileID, evt.RunID, evt.Path, evt.ObjectType, evt.Category, evt.Rows, evt.Success, evt.Error,
		evt.TotalUpdates, evt.TotalFailures, missing, unreachable, engines, archive,
		evt.StartedAt, evt.FinishedAt)
	return err
}

func (s *PGStore) RecordRunFinished(ctx context.Context, evt bus.RunFinished) error {
	_, err := db.Exec(ctx, s.pool, `
INSERT INTO runs (id, stamp, engines, status, files, failed, started_at, finished_at)
VALUES ($1, '', '[]'::jsonb, $2, $3, $4, $5, $5)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status, files = EXCLUDED.files, failed = EXCLUDED.failed, finished_at = EXCLUDED.finished_at
`, evt.RunID, runStatus(evt.Failed), evt.Files, evt.Failed, evt.FinishedAt)
	return err
}

// jsonText renders v for a ::jsonb parameter. Nil slices become [].
func jsonText[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Stats aggregates the runs and file_results tables.
func (s *PGStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := db.Get(ctx, s.pool, &st, `
SELECT
	(SELECT count(*) FROM runs) AS runs,
	count(f.id) AS files,
	count(f.id) FILTER (WHERE NOT f.success) AS failed_files,
	coalesce(sum(f.total_updates), 0) AS total_updates,
	coalesce(sum(f.total_failures), 0) AS total_failures,
	coalesce(sum(jsonb_array_length(f.missing_ids)), 0) AS missing_ids,
	(SELECT max(started_at) FROM runs) AS last_run_at
FROM file_results f
`)
	return st, err
}

// CategoryStats returns per object type and category totals, busiest first.
func (s *PGStore) CategoryStats(ctx context.Context) ([]CategoryStats, error) {
	var rows []CategoryStats
	err := db.Select(ctx, s.pool, &rows, `
SELECT
	object_type,
	category,
	count(*) AS files,
	count(*) FILTER (WHERE NOT success) AS failed_files,
	coalesce(sum(total_updates), 0) AS total_updates,
	max(finished_at) AS last_finished_at
FROM file_results
WHERE object_type <> ''
GROUP BY object_type, category
ORDER BY files DESC, object_type, category
`)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []CategoryStats{}
	}
	return rows, nil
}
