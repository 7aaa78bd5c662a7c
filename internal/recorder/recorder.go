package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrClosed is returned when writing to a store that has been closed.
var ErrClosed = errors.New("recorder closed")

// Transition is one step of experience from the environment.
type Transition struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	EpisodeID       string    `json:"episode_id"`
	Step            int       `json:"step"`
	ActionIndex     int       `json:"action_index"`
	Observation     []float32 `json:"observation,omitempty"`
	NextObservation []float32 `json:"next_observation,omitempty"`
	Reward          float64   `json:"reward"`
	Done            bool      `json:"done"`
	Outcome         string    `json:"outcome,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Store persists batches of transitions.
type Store interface {
	SaveBatch(ctx context.Context, batch []Transition) error
	Close() error
}

// Config selects and parameterizes a backend.
type Config struct {
	Backend  string
	Dir      string
	RunID    string
	DSN      string
	Capacity int
}

// Open builds the configured store backend.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (Store, error) {
	switch cfg.Backend {
	case "jsonl":
		return NewJSONL(cfg.Dir, cfg.RunID, logger)
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, logger)
	case "memory":
		return NewMemory(cfg.Capacity), nil
	case "none":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown recorder backend %q", cfg.Backend)
	}
}

// Noop discards all transitions.
type Noop struct{}

func (Noop) SaveBatch(ctx context.Context, batch []Transition) error { return nil }
func (Noop) Close() error                                            { return nil }

// normalize fills in the fields a backend owns when the caller left them
// empty.
func normalize(t *Transition) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
}
