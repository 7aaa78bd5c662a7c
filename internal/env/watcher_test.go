package env

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krazyness/CRBot-public/internal/device"
)

type scriptedTerminal struct {
	mu      sync.Mutex
	calls   int
	foundAt int
	outcome device.Outcome
}

func (s *scriptedTerminal) CheckTerminal(ctx context.Context) (device.Outcome, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.foundAt > 0 && s.calls >= s.foundAt {
		return s.outcome, true, nil
	}
	return "", false, nil
}

func (s *scriptedTerminal) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type blockedTerminal struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockedTerminal() *blockedTerminal {
	return &blockedTerminal{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockedTerminal) CheckTerminal(ctx context.Context) (device.Outcome, bool, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return "", false, nil
}

func TestWatcherLatchesOutcome(t *testing.T) {
	detector := &scriptedTerminal{foundAt: 2, outcome: device.OutcomeVictory}
	w := newWatcher(detector, 2*time.Millisecond, zerolog.Nop())
	w.Start()

	require.Eventually(t, func() bool {
		_, ok := w.Outcome()
		return ok
	}, time.Second, time.Millisecond)

	outcome, ok := w.Outcome()
	assert.True(t, ok)
	assert.Equal(t, device.OutcomeVictory, outcome)

	// The polling goroutine exits once the outcome is latched.
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher still polling after latch")
	}

	require.NoError(t, w.Stop(100*time.Millisecond))
}

func TestWatcherStopCancelsPolling(t *testing.T) {
	detector := &scriptedTerminal{}
	w := newWatcher(detector, 2*time.Millisecond, zerolog.Nop())
	w.Start()

	require.Eventually(t, func() bool {
		return detector.callCount() > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, w.Stop(time.Second))

	_, ok := w.Outcome()
	assert.False(t, ok)
}

func TestWatcherStopBounded(t *testing.T) {
	detector := newBlockedTerminal()
	t.Cleanup(func() { close(detector.release) })

	w := newWatcher(detector, time.Millisecond, zerolog.Nop())
	w.Start()

	select {
	case <-detector.entered:
	case <-time.After(time.Second):
		t.Fatal("detector was never polled")
	}

	start := time.Now()
	err := w.Stop(50 * time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w := newWatcher(&scriptedTerminal{}, time.Millisecond, zerolog.Nop())
	assert.NoError(t, w.Stop(10*time.Millisecond))
}
