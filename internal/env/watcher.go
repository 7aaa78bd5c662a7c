package env

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krazyness/CRBot-public/internal/device"
)

// terminalDetector is the slice of the executor the watcher polls.
type terminalDetector interface {
	CheckTerminal(ctx context.Context) (device.Outcome, bool, error)
}

// watcher polls for the end-of-match banner in the background and latches
// the first outcome it sees. After latching it stops polling.
type watcher struct {
	detector terminalDetector
	interval time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome device.Outcome
	found   bool
}

func newWatcher(detector terminalDetector, interval time.Duration, logger zerolog.Logger) *watcher {
	return &watcher{
		detector: detector,
		interval: interval,
		logger:   logger.With().Str("component", "watcher").Logger(),
		done:     make(chan struct{}),
	}
}

// Start launches the polling goroutine.
func (w *watcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, found, err := w.detector.CheckTerminal(ctx)
			if found {
				w.mu.Lock()
				w.outcome = outcome
				w.found = true
				w.mu.Unlock()
				w.logger.Info().Str("outcome", string(outcome)).Msg("Terminal state latched")
				return
			}
			if err != nil && ctx.Err() == nil {
				// Transient detector failures are retried on the
				// next tick.
				w.logger.Warn().Err(err).Msg("Terminal check failed")
			}
		}
	}
}

// Outcome returns the latched terminal result, if any.
func (w *watcher) Outcome() (device.Outcome, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome, w.found
}

// Stop cancels polling and waits up to timeout for the goroutine to exit. A
// detector stuck inside a call cannot hold up shutdown past the timeout.
func (w *watcher) Stop(timeout time.Duration) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("endgame watcher did not stop within %s", timeout)
	}
}
