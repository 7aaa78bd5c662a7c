package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

const transitionsSchema = `
	CREATE TABLE IF NOT EXISTS transitions (
		id               TEXT PRIMARY KEY,
		run_id           TEXT NOT NULL,
		episode_id       TEXT NOT NULL,
		step             INTEGER NOT NULL,
		action_index     INTEGER NOT NULL,
		observation      JSONB,
		next_observation JSONB,
		reward           DOUBLE PRECISION NOT NULL,
		done             BOOLEAN NOT NULL,
		outcome          TEXT,
		created_at       TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS transitions_run_episode_idx
		ON transitions (run_id, episode_id);`

// Postgres persists transitions in a PostgreSQL table so training jobs can
// read them with plain SQL.
type Postgres struct {
	mu     sync.Mutex
	db     *sql.DB
	closed bool
	logger zerolog.Logger
}

// NewPostgres connects to the database at dsn and ensures the transitions
// table exists.
func NewPostgres(ctx context.Context, dsn string, logger zerolog.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, transitionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Postgres{
		db:     db,
		logger: logger.With().Str("component", "recorder").Logger(),
	}, nil
}

func (p *Postgres) SaveBatch(ctx context.Context, batch []Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if len(batch) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transitions (id, run_id, episode_id, step, action_index,
								 observation, next_observation, reward, done,
								 outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	for i := range batch {
		t := batch[i]
		normalize(&t)

		obs, err := json.Marshal(t.Observation)
		if err != nil {
			return fmt.Errorf("failed to marshal observation: %w", err)
		}
		next, err := json.Marshal(t.NextObservation)
		if err != nil {
			return fmt.Errorf("failed to marshal next observation: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			t.ID, t.RunID, t.EpisodeID, t.Step, t.ActionIndex,
			obs, next, t.Reward, t.Done, t.Outcome, t.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert transition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transitions: %w", err)
	}
	p.logger.Debug().Int("count", len(batch)).Msg("Transitions recorded")
	return nil
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
