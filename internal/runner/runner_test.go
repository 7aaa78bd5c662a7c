package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/env"
	"github.com/krazyness/CRBot-public/internal/events"
	"github.com/krazyness/CRBot-public/internal/recorder"
)

// scriptedEnv ends each episode after doneAfter steps, or never when
// doneAfter is zero.
type scriptedEnv struct {
	mu         sync.Mutex
	doneAfter  int
	outcome    device.Outcome
	stepReward float64
	resetErrs  int
	delay      time.Duration

	resets int
	step   int
}

func (s *scriptedEnv) Reset(ctx context.Context) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if s.resetErrs > 0 {
		s.resetErrs--
		return nil, errors.New("device not ready")
	}
	s.step = 0
	return []float32{0.5}, nil
}

func (s *scriptedEnv) Step(ctx context.Context, actionIndex int) (env.StepResult, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	res := env.StepResult{Obs: []float32{float32(s.step)}, Reward: s.stepReward}
	if s.doneAfter > 0 && s.step >= s.doneAfter {
		res.Done = true
		res.Outcome = s.outcome
	}
	return res, nil
}

func (s *scriptedEnv) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

type fixedPolicy int

func (f fixedPolicy) SelectAction(obs []float32) int { return int(f) }

type capturePublisher struct {
	mu       sync.Mutex
	started  []events.EpisodeStartedEvent
	finished []events.EpisodeFinishedEvent
}

func (c *capturePublisher) PublishEpisodeStarted(ctx context.Context, e events.EpisodeStartedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, e)
	return nil
}

func (c *capturePublisher) PublishEpisodeFinished(ctx context.Context, e events.EpisodeFinishedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, e)
	return nil
}

func (c *capturePublisher) startedEvents() []events.EpisodeStartedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.EpisodeStartedEvent(nil), c.started...)
}

func (c *capturePublisher) finishedEvents() []events.EpisodeFinishedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.EpisodeFinishedEvent(nil), c.finished...)
}

type countingStore struct {
	*recorder.Memory
	mu      sync.Mutex
	batches []int
}

func (c *countingStore) SaveBatch(ctx context.Context, batch []recorder.Transition) error {
	c.mu.Lock()
	c.batches = append(c.batches, len(batch))
	c.mu.Unlock()
	return c.Memory.SaveBatch(ctx, batch)
}

func (c *countingStore) batchSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.batches...)
}

func TestRunnerRunsConfiguredEpisodes(t *testing.T) {
	environment := &scriptedEnv{doneAfter: 3, outcome: device.OutcomeVictory, stepReward: 1.5}
	store := recorder.NewMemory(0)
	pub := &capturePublisher{}
	r := New(Config{RunID: "run-1", MaxEpisodes: 2}, environment, fixedPolicy(7), store, pub, zerolog.Nop())

	require.NoError(t, r.Run(context.Background()))

	status := r.Status()
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, 2, status.Episodes)
	assert.Equal(t, int64(6), status.Steps)
	assert.Equal(t, 2, status.Victories)
	assert.Equal(t, 0, status.Defeats)
	assert.InDelta(t, 9.0, status.TotalReward, 1e-9)
	assert.InDelta(t, 4.5, status.LastEpisodeReward, 1e-9)
	assert.False(t, status.Running)

	all := store.All()
	require.Len(t, all, 6)
	first := all[0]
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, 7, first.ActionIndex)
	assert.Equal(t, 0, first.Step)
	assert.Equal(t, []float32{0.5}, first.Observation)
	assert.Equal(t, []float32{1}, first.NextObservation)
	assert.False(t, first.Done)

	assert.True(t, all[2].Done)
	assert.Equal(t, "victory", all[2].Outcome)
	assert.Equal(t, 0, all[3].Step)
	assert.NotEqual(t, all[0].EpisodeID, all[3].EpisodeID)
}

func TestRunnerFlushesInBatches(t *testing.T) {
	environment := &scriptedEnv{doneAfter: 5, outcome: device.OutcomeDefeat}
	store := &countingStore{Memory: recorder.NewMemory(0)}
	r := New(Config{RunID: "run-1", MaxEpisodes: 1, BatchSize: 2}, environment, fixedPolicy(0), store, events.NoopPublisher{}, zerolog.Nop())

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []int{2, 2, 1}, store.batchSizes())
	assert.Equal(t, 5, store.Len())
}

func TestRunnerStopsAtMaxSteps(t *testing.T) {
	environment := &scriptedEnv{}
	store := recorder.NewMemory(0)
	pub := &capturePublisher{}
	r := New(Config{RunID: "run-1", MaxEpisodes: 1, MaxSteps: 3}, environment, fixedPolicy(0), store, pub, zerolog.Nop())

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 3, store.Len())
	for _, tr := range store.All() {
		assert.False(t, tr.Done)
	}

	finished := pub.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, 3, finished[0].Steps)
	assert.Empty(t, finished[0].Outcome)
	assert.Equal(t, int64(3), r.Status().Steps)
}

func TestRunnerRetriesFailedEpisode(t *testing.T) {
	environment := &scriptedEnv{doneAfter: 1, outcome: device.OutcomeVictory, resetErrs: 1}
	store := recorder.NewMemory(0)
	r := New(Config{RunID: "run-1", MaxEpisodes: 1}, environment, fixedPolicy(0), store, events.NoopPublisher{}, zerolog.Nop())

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, 2, environment.resetCount())
	assert.Equal(t, 1, r.Status().Episodes)
	assert.Equal(t, 1, store.Len())
}

func TestRunnerStopsOnCancel(t *testing.T) {
	environment := &scriptedEnv{delay: time.Millisecond}
	store := recorder.NewMemory(0)
	r := New(Config{RunID: "run-1"}, environment, fixedPolicy(0), store, events.NoopPublisher{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.Status().Running }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	assert.False(t, r.Status().Running)
}

func TestRunnerPublishesLifecycleEvents(t *testing.T) {
	environment := &scriptedEnv{doneAfter: 2, outcome: device.OutcomeDefeat, stepReward: -1}
	pub := &capturePublisher{}
	r := New(Config{RunID: "run-9", MaxEpisodes: 1}, environment, fixedPolicy(0), recorder.Noop{}, pub, zerolog.Nop())

	require.NoError(t, r.Run(context.Background()))

	started := pub.startedEvents()
	require.Len(t, started, 1)
	assert.Equal(t, "run-9", started[0].RunID)
	assert.Equal(t, 0, started[0].Episode)
	assert.NotEmpty(t, started[0].EpisodeID)
	assert.False(t, started[0].StartedAt.IsZero())

	finished := pub.finishedEvents()
	require.Len(t, finished, 1)
	assert.Equal(t, started[0].EpisodeID, finished[0].EpisodeID)
	assert.Equal(t, 2, finished[0].Steps)
	assert.InDelta(t, -2.0, finished[0].Reward, 1e-9)
	assert.Equal(t, "defeat", finished[0].Outcome)
}
