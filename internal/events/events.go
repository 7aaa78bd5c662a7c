package events

import (
	"context"
	"time"
)

// Publisher is implemented by downstream fan-out mechanisms.
type Publisher interface {
	PublishEpisodeStarted(ctx context.Context, payload EpisodeStartedEvent) error
	PublishEpisodeFinished(ctx context.Context, payload EpisodeFinishedEvent) error
}

// EpisodeStartedEvent is emitted when the runner begins a new episode.
type EpisodeStartedEvent struct {
	RunID     string    `json:"run_id"`
	EpisodeID string    `json:"episode_id"`
	Episode   int       `json:"episode"`
	StartedAt time.Time `json:"started_at"`
}

// EpisodeFinishedEvent is emitted when an episode reaches a terminal state
// or its step limit.
type EpisodeFinishedEvent struct {
	RunID      string  `json:"run_id"`
	EpisodeID  string  `json:"episode_id"`
	Episode    int     `json:"episode"`
	Steps      int     `json:"steps"`
	Reward     float64 `json:"reward"`
	Outcome    string  `json:"outcome,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// NoopPublisher logs nothing; useful for tests.
type NoopPublisher struct{}

// PublishEpisodeStarted satisfies Publisher.
func (NoopPublisher) PublishEpisodeStarted(context.Context, EpisodeStartedEvent) error { return nil }

// PublishEpisodeFinished satisfies Publisher.
func (NoopPublisher) PublishEpisodeFinished(context.Context, EpisodeFinishedEvent) error { return nil }
