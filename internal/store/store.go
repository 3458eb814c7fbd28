package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/aquario/internal/agent"
	"github.com/xkilldash9x/aquario/internal/pool"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists login pool reports and training evaluations in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var (
	_ pool.Store           = (*Store)(nil)
	_ agent.EvaluationSink = (*Store)(nil)
)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, db DBPool, logger *zap.Logger) (*Store, error) {
	if err := db.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: db,
		log:  logger.Named("store"),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS login_runs (
    run_id      UUID PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    requested   INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    skipped     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS login_results (
    run_id      UUID NOT NULL REFERENCES login_runs (run_id) ON DELETE CASCADE,
    seed        BIGINT NOT NULL,
    nickname    TEXT NOT NULL,
    ok          BOOLEAN NOT NULL,
    reason      TEXT NOT NULL,
    error       TEXT NOT NULL,
    duration_ms BIGINT NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, seed)
);
CREATE TABLE IF NOT EXISTS evaluations (
    run_id       TEXT NOT NULL,
    timesteps    INTEGER NOT NULL,
    mean_reward  DOUBLE PRECISION NOT NULL,
    std_reward   DOUBLE PRECISION NOT NULL,
    mean_length  DOUBLE PRECISION NOT NULL,
    rewards      JSONB NOT NULL,
    new_best     BOOLEAN NOT NULL,
    evaluated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, timesteps)
);`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const insertRunSQL = `
    INSERT INTO login_runs (run_id, started_at, duration_ms, requested, succeeded, failed, skipped)
    VALUES ($1, $2, $3, $4, $5, $6, $7)`

var resultColumns = []string{"run_id", "seed", "nickname", "ok", "reason", "error", "duration_ms", "finished_at"}

// SaveLoginReport stores a run and all of its results in one transaction.
func (s *Store) SaveLoginReport(ctx context.Context, report *pool.Report) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, insertRunSQL,
		report.RunID, report.StartedAt.UTC(), report.Duration.Milliseconds(),
		report.Requested, report.Succeeded, report.Failed, report.Skipped,
	); err != nil {
		return fmt.Errorf("failed to insert login run: %w", err)
	}

	if len(report.Results) > 0 {
		rows := make([][]interface{}, len(report.Results))
		for i, r := range report.Results {
			rows[i] = []interface{}{
				report.RunID, r.Seed, r.Nickname, r.OK, r.Reason, r.Error,
				r.Duration.Milliseconds(), r.FinishedAt.UTC(),
			}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"login_results"}, resultColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy login results: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied results count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved login report.", zap.String("run_id", report.RunID), zap.Int("results", len(report.Results)))
	return nil
}

const insertEvaluationSQL = `
    INSERT INTO evaluations (run_id, timesteps, mean_reward, std_reward, mean_length, rewards, new_best, evaluated_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    ON CONFLICT (run_id, timesteps) DO UPDATE SET
        mean_reward = EXCLUDED.mean_reward,
        std_reward = EXCLUDED.std_reward,
        mean_length = EXCLUDED.mean_length,
        rewards = EXCLUDED.rewards,
        new_best = EXCLUDED.new_best,
        evaluated_at = EXCLUDED.evaluated_at`

// SaveEvaluation records one periodic training evaluation.
func (s *Store) SaveEvaluation(ctx context.Context, runID string, ev agent.Evaluation) error {
	rewards, err := json.Marshal(ev.Rewards)
	if err != nil {
		return fmt.Errorf("failed to encode rewards: %w", err)
	}
	if _, err := s.pool.Exec(ctx, insertEvaluationSQL,
		runID, ev.Timesteps, ev.MeanReward, ev.StdReward, ev.MeanLength,
		string(rewards), ev.NewBest, ev.At.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}
	return nil
}

// RunSummary is one row of login_runs.
type RunSummary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Requested int           `json:"requested"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
}

const recentRunsSQL = `
    SELECT run_id::text, started_at, duration_ms, requested, succeeded, failed, skipped
    FROM login_runs
    ORDER BY started_at DESC
    LIMIT $1`

// RecentRuns returns the latest login runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, recentRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r  RunSummary
			ms int64
		)
		if err := rows.Scan(&r.RunID, &r.StartedAt, &ms, &r.Requested, &r.Succeeded, &r.Failed, &r.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan login run: %w", err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read login runs: %w", err)
	}
	return out, nil
}
