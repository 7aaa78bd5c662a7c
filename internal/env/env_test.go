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
	"github.com/krazyness/CRBot-public/internal/vision"
)

type fakeExec struct {
	mu        sync.Mutex
	frame     *device.Frame
	plays     [][3]int
	dismissed int
	overlay   bool
	terminal  bool
	outcome   device.Outcome
}

func (f *fakeExec) Screenshot(ctx context.Context) (*device.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frame, nil
}

func (f *fakeExec) PlayCard(ctx context.Context, slot, x, y int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, [3]int{slot, x, y})
	return nil
}

func (f *fakeExec) DismissPopup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dismissed++
	return nil
}

func (f *fakeExec) MatchOver(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.overlay, nil
}

func (f *fakeExec) CheckTerminal(ctx context.Context) (device.Outcome, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.terminal {
		return f.outcome, true, nil
	}
	return "", false, nil
}

func (f *fakeExec) setOverlay(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overlay = on
}

func (f *fakeExec) setTerminal(outcome device.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminal = true
	f.outcome = outcome
}

func (f *fakeExec) playCalls() [][3]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][3]int, len(f.plays))
	copy(out, f.plays)
	return out
}

func (f *fakeExec) dismissCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dismissed
}

type fakeDetector struct {
	mu      sync.Mutex
	units   [][]vision.Detection
	hand    []string
	handIdx int
}

func (f *fakeDetector) DetectUnits(ctx context.Context, image []byte) ([]vision.Detection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.units) == 0 {
		return nil, nil
	}
	cur := f.units[0]
	if len(f.units) > 1 {
		f.units = f.units[1:]
	}
	return cur, nil
}

func (f *fakeDetector) ClassifyCard(ctx context.Context, image []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.hand) == 0 {
		return vision.UnknownCard, nil
	}
	name := f.hand[f.handIdx%len(f.hand)]
	f.handIdx++
	return name, nil
}

// testFrame paints the requested number of elixir pips onto a full-size
// blank screen.
func testFrame(elixir int) *device.Frame {
	f := &device.Frame{
		Width:  device.ScreenWidth,
		Height: device.ScreenHeight,
		Pix:    make([]byte, device.ScreenWidth*device.ScreenHeight*4),
	}
	for i := 0; i < elixir; i++ {
		x := device.ElixirStartX + i*device.ElixirStepX
		p := (device.ElixirRowY*device.ScreenWidth + x) * 4
		f.Pix[p] = 225
		f.Pix[p+1] = 128
		f.Pix[p+2] = 229
		f.Pix[p+3] = 255
	}
	return f
}

func newTestEnv(exec Executor, detector Detector) *Env {
	return New(exec, detector, Config{
		ResetSettle:   0,
		ActionSettle:  0,
		WatchInterval: 2 * time.Millisecond,
		CloseTimeout:  200 * time.Millisecond,
	}, zerolog.Nop())
}

func waitForTerminalLatch(t *testing.T, e *Env) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := e.watch.Outcome()
		return ok
	}, time.Second, time.Millisecond)
}

func TestEnvReset(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{units: [][]vision.Detection{{
		{Class: "enemy knight", X: 640, Y: 300},
		{Class: "enemy princess tower", X: 200, Y: 60},
		{Class: "enemy princess tower", X: 1000, Y: 60},
	}}}
	e := newTestEnv(exec, detector)
	defer e.Close()

	obs, err := e.Reset(context.Background())
	require.NoError(t, err)
	require.Len(t, obs, ObservationSize)

	assert.InDelta(t, 0.5, obs[0], 1e-6)
	assert.InDelta(t, 640.0/1280, obs[enemyBlockStart], 1e-4)
	assert.InDelta(t, 300.0/520, obs[enemyBlockStart+1], 1e-4)

	assert.Equal(t, 2, e.prevTowers)
	assert.True(t, e.towersSeeded)
}

func TestEnvStepPlaysTroop(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, res.Done)
	require.Len(t, res.Obs, ObservationSize)

	// Troop drop: deepest enemy's x, fixed defensive line.
	plays := exec.playCalls()
	require.Len(t, plays, 1)
	assert.Equal(t, [3]int{0, 640, 490}, plays[0])

	// First scored step pays the bare presence penalty.
	presence := 640.0/1280 + 300.0/520
	assert.InDelta(t, -presence, res.Reward, 1e-3)
}

func TestEnvStepNoop(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), NoopIndex)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Empty(t, exec.playCalls())
	assert.NotNil(t, res.Obs)
}

func TestEnvStepInvalidAction(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	_, err = e.Step(context.Background(), NumActions+1)
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestEnvAllUnknownHand(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{vision.UnknownCard},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, 1, exec.dismissCount())
	assert.Empty(t, exec.playCalls())
	assert.Zero(t, res.Reward)
	assert.False(t, res.Done)
	assert.NotNil(t, res.Obs)
}

func TestEnvTerminalVictory(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	exec.setTerminal(device.OutcomeVictory)
	waitForTerminalLatch(t, e)

	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, device.OutcomeVictory, res.Outcome)
	assert.Empty(t, exec.playCalls())

	presence := 640.0/1280 + 300.0/520
	assert.InDelta(t, TerminalReward-presence, res.Reward, 1e-3)
}

func TestEnvTerminalDefeat(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	exec.setTerminal(device.OutcomeDefeat)
	waitForTerminalLatch(t, e)

	res, err := e.Step(context.Background(), NoopIndex)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, device.OutcomeDefeat, res.Outcome)

	presence := 640.0/1280 + 300.0/520
	assert.InDelta(t, -TerminalReward-presence, res.Reward, 1e-3)
}

func TestEnvOverlayForcesNoop(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	exec.setOverlay(true)
	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Empty(t, exec.playCalls())
	assert.True(t, e.matchOver)

	// The latch outlives the overlay itself.
	exec.setOverlay(false)
	res, err = e.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, res.Done)
	assert.Empty(t, exec.playCalls())

	// Consuming the terminal outcome clears the latch.
	exec.setTerminal(device.OutcomeDefeat)
	waitForTerminalLatch(t, e)
	res, err = e.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.False(t, e.matchOver)
}

func TestEnvSpellPenalty(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{
			{{Class: "enemy knight", X: 100, Y: 130}},
			{{Class: "enemy knight", X: 1200, Y: 500}},
		},
		hand: []string{"Fireball", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)

	// The spell aimed at the enemy seen during reset.
	plays := exec.playCalls()
	require.Len(t, plays, 1)
	assert.Equal(t, [3]int{0, 100, 230}, plays[0])

	// By the time the dust settles the only enemy is far away.
	presence := 1200.0/1280 + 500.0/520
	assert.InDelta(t, -presence-SpellPenalty, res.Reward, 1e-3)
}

func TestEnvSpellOnTargetNoPenalty(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{{{Class: "enemy knight", X: 640, Y: 300}}},
		hand:  []string{"Fireball", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	res, err := e.Step(context.Background(), 0)
	require.NoError(t, err)

	presence := 640.0/1280 + 300.0/520
	assert.InDelta(t, -presence, res.Reward, 1e-3)
}

func TestEnvTowerBonus(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{
		units: [][]vision.Detection{
			{
				{Class: "enemy princess tower", X: 200, Y: 60},
				{Class: "enemy princess tower", X: 1000, Y: 60},
			},
			{
				{Class: "enemy princess tower", X: 200, Y: 60},
			},
		},
		hand: []string{"Knight", "Archers", "Giant", "Minions"},
	}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, e.prevTowers)

	res, err := e.Step(context.Background(), NoopIndex)
	require.NoError(t, err)

	// Towers carry no presence, so the bonus is the whole reward.
	assert.InDelta(t, float64(TowerBonus), res.Reward, 1e-6)
	assert.Equal(t, 1, e.prevTowers)
}

func TestEnvNoObservation(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{hand: []string{"Knight", "Archers", "Giant", "Minions"}}
	e := newTestEnv(exec, detector)
	defer e.Close()

	obs, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.Nil(t, obs)

	res, err := e.Step(context.Background(), NoopIndex)
	require.NoError(t, err)
	assert.Nil(t, res.Obs)
	assert.Zero(t, res.Reward)

	_, err = e.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoObservation)
}

func TestEnvResetStopsPreviousWatcher(t *testing.T) {
	exec := &fakeExec{frame: testFrame(5)}
	detector := &fakeDetector{}
	e := newTestEnv(exec, detector)
	defer e.Close()

	_, err := e.Reset(context.Background())
	require.NoError(t, err)
	first := e.watch

	_, err = e.Reset(context.Background())
	require.NoError(t, err)

	select {
	case <-first.done:
	default:
		t.Fatal("previous watcher still running after reset")
	}
	assert.NotSame(t, first, e.watch)
}

type stuckExec struct {
	fakeExec
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stuckExec) CheckTerminal(ctx context.Context) (device.Outcome, bool, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return "", false, nil
}

func TestEnvCloseBounded(t *testing.T) {
	exec := &stuckExec{
		fakeExec: fakeExec{frame: testFrame(3)},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	t.Cleanup(func() { close(exec.release) })

	e := New(exec, &fakeDetector{}, Config{
		WatchInterval: 2 * time.Millisecond,
		CloseTimeout:  50 * time.Millisecond,
	}, zerolog.Nop())

	_, err := e.Reset(context.Background())
	require.NoError(t, err)

	select {
	case <-exec.entered:
	case <-time.After(time.Second):
		t.Fatal("terminal detector was never polled")
	}

	start := time.Now()
	err = e.Close()
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
