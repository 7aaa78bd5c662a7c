package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/env"
	"github.com/krazyness/CRBot-public/internal/events"
	"github.com/krazyness/CRBot-public/internal/policy"
	"github.com/krazyness/CRBot-public/internal/recorder"
)

const (
	// DefaultMaxSteps caps an episode that never reaches a terminal screen.
	DefaultMaxSteps = 500
	// DefaultBatchSize is how many transitions are saved per store call.
	DefaultBatchSize = 32
	// DefaultEpisodeTimeout bounds a single match end to end.
	DefaultEpisodeTimeout = 10 * time.Minute

	finalFlushTimeout = 5 * time.Second
)

// Config controls the episode loop.
type Config struct {
	RunID          string
	MaxEpisodes    int // <= 0 runs until cancelled
	MaxSteps       int
	BatchSize      int
	EpisodeTimeout time.Duration
}

// Environment is the slice of the game environment the runner drives.
type Environment interface {
	Reset(ctx context.Context) ([]float32, error)
	Step(ctx context.Context, actionIndex int) (env.StepResult, error)
}

// Status is a snapshot of run progress.
type Status struct {
	RunID             string  `json:"run_id"`
	Running           bool    `json:"running"`
	Episodes          int     `json:"episodes"`
	Steps             int64   `json:"steps"`
	Victories         int     `json:"victories"`
	Defeats           int     `json:"defeats"`
	TotalReward       float64 `json:"total_reward"`
	LastEpisodeReward float64 `json:"last_episode_reward"`
}

// Runner drives the environment with a policy, buffers the resulting
// transitions into the store and publishes episode lifecycle events.
type Runner struct {
	cfg       Config
	env       Environment
	policy    policy.Policy
	store     recorder.Store
	publisher events.Publisher
	logger    zerolog.Logger

	buffer []recorder.Transition

	mu     sync.RWMutex
	status Status
}

// New creates a runner. Zero config fields fall back to defaults.
func New(cfg Config, environment Environment, pol policy.Policy, store recorder.Store, publisher events.Publisher, logger zerolog.Logger) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.EpisodeTimeout <= 0 {
		cfg.EpisodeTimeout = DefaultEpisodeTimeout
	}

	return &Runner{
		cfg:       cfg,
		env:       environment,
		policy:    pol,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "runner").Str("run_id", cfg.RunID).Logger(),
		buffer:    make([]recorder.Transition, 0, cfg.BatchSize),
		status:    Status{RunID: cfg.RunID},
	}
}

// Status returns a copy of the current run counters.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Run starts the episode loop and blocks until the context is cancelled or
// the episode limit is reached.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().
		Int("max_episodes", r.cfg.MaxEpisodes).
		Int("max_steps", r.cfg.MaxSteps).
		Int("batch_size", r.cfg.BatchSize).
		Msg("Starting episode loop")

	r.setRunning(true)
	defer r.setRunning(false)

	// Flush whatever is still buffered when the loop exits. The parent
	// context may already be cancelled at that point.
	defer func() {
		if len(r.buffer) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
		if err := r.flushBuffer(flushCtx); err != nil {
			r.logger.Error().Err(err).Msg("Failed to flush remaining transitions")
		}
	}()

	episodeCount := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Context cancelled, stopping runner")
			return ctx.Err()
		default:
		}

		if r.cfg.MaxEpisodes > 0 && episodeCount >= r.cfg.MaxEpisodes {
			r.logger.Info().Int("episodes", episodeCount).Msg("Reached maximum episodes, stopping")
			return nil
		}

		if err := r.runEpisode(ctx, episodeCount); err != nil {
			if ctx.Err() != nil {
				r.logger.Info().Msg("Context cancelled, stopping runner")
				return ctx.Err()
			}
			// Continue with next episode rather than stopping.
			r.logger.Error().Err(err).Int("episode", episodeCount).Msg("Episode failed")
			continue
		}

		episodeCount++
	}
}

// runEpisode plays a single match and collects transitions.
func (r *Runner) runEpisode(ctx context.Context, episode int) error {
	episodeCtx, cancel := context.WithTimeout(ctx, r.cfg.EpisodeTimeout)
	defer cancel()

	episodeID := fmt.Sprintf("%s-ep-%d-%d", r.cfg.RunID, episode, time.Now().Unix())
	startedAt := time.Now()

	if err := r.publisher.PublishEpisodeStarted(episodeCtx, events.EpisodeStartedEvent{
		RunID:     r.cfg.RunID,
		EpisodeID: episodeID,
		Episode:   episode,
		StartedAt: startedAt.UTC(),
	}); err != nil {
		r.logger.Warn().Err(err).Str("episode_id", episodeID).Msg("Failed to publish episode start")
	}

	obs, err := r.env.Reset(episodeCtx)
	if err != nil {
		return fmt.Errorf("failed to reset environment: %w", err)
	}

	var (
		steps         int
		episodeReward float64
		outcome       string
	)

	for steps < r.cfg.MaxSteps {
		select {
		case <-episodeCtx.Done():
			return fmt.Errorf("episode aborted: %w", episodeCtx.Err())
		default:
		}

		action := r.policy.SelectAction(obs)
		result, err := r.env.Step(episodeCtx, action)
		if err != nil {
			return fmt.Errorf("failed to step environment: %w", err)
		}

		r.buffer = append(r.buffer, recorder.Transition{
			RunID:           r.cfg.RunID,
			EpisodeID:       episodeID,
			Step:            steps,
			ActionIndex:     action,
			Observation:     obs,
			NextObservation: result.Obs,
			Reward:          result.Reward,
			Done:            result.Done,
			Outcome:         string(result.Outcome),
		})

		if len(r.buffer) >= r.cfg.BatchSize {
			if err := r.flushBuffer(episodeCtx); err != nil {
				return fmt.Errorf("failed to flush transitions: %w", err)
			}
		}

		steps++
		episodeReward += result.Reward

		if result.Done {
			outcome = string(result.Outcome)
			break
		}
		obs = result.Obs
	}

	if err := r.flushBuffer(episodeCtx); err != nil {
		return fmt.Errorf("failed to flush transitions: %w", err)
	}

	r.recordEpisode(steps, episodeReward, outcome)

	if err := r.publisher.PublishEpisodeFinished(episodeCtx, events.EpisodeFinishedEvent{
		RunID:      r.cfg.RunID,
		EpisodeID:  episodeID,
		Episode:    episode,
		Steps:      steps,
		Reward:     episodeReward,
		Outcome:    outcome,
		DurationMS: time.Since(startedAt).Milliseconds(),
	}); err != nil {
		r.logger.Warn().Err(err).Str("episode_id", episodeID).Msg("Failed to publish episode result")
	}

	r.logger.Info().
		Str("episode_id", episodeID).
		Int("steps", steps).
		Float64("reward", episodeReward).
		Str("outcome", outcome).
		Msg("Episode completed")

	return nil
}

// flushBuffer saves accumulated transitions to the store.
func (r *Runner) flushBuffer(ctx context.Context) error {
	if len(r.buffer) == 0 {
		return nil
	}

	if err := r.store.SaveBatch(ctx, r.buffer); err != nil {
		return fmt.Errorf("failed to store batch: %w", err)
	}

	r.buffer = r.buffer[:0]
	return nil
}

func (r *Runner) setRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Running = running
}

func (r *Runner) recordEpisode(steps int, reward float64, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.Episodes++
	r.status.Steps += int64(steps)
	r.status.TotalReward += reward
	r.status.LastEpisodeReward = reward

	switch device.Outcome(outcome) {
	case device.OutcomeVictory:
		r.status.Victories++
	case device.OutcomeDefeat:
		r.status.Defeats++
	}
}
