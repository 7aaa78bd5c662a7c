package env

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/vision"
)

var (
	// ErrInvalidAction is returned for an action index outside the catalogue.
	ErrInvalidAction = errors.New("invalid action index")
	// ErrNoObservation is returned when the detector sees nothing on the field.
	ErrNoObservation = errors.New("no observation")
)

// Executor is the device automation surface the environment drives.
type Executor interface {
	Screenshot(ctx context.Context) (*device.Frame, error)
	PlayCard(ctx context.Context, slot, x, y int) error
	DismissPopup(ctx context.Context) error
	MatchOver(ctx context.Context) (bool, error)
	CheckTerminal(ctx context.Context) (device.Outcome, bool, error)
}

// Detector turns screenshots into game objects.
type Detector interface {
	DetectUnits(ctx context.Context, image []byte) ([]vision.Detection, error)
	ClassifyCard(ctx context.Context, image []byte) (string, error)
}

// Config controls environment timing.
type Config struct {
	// ResetSettle is how long Reset waits for the arena to load.
	ResetSettle time.Duration
	// ActionSettle is how long a played card gets to take effect before the
	// step observation is captured.
	ActionSettle time.Duration
	// WatchInterval is the endgame watcher polling period.
	WatchInterval time.Duration
	// CloseTimeout bounds how long Close waits for the watcher to exit.
	CloseTimeout time.Duration
}

// DefaultConfig returns production timing.
func DefaultConfig() Config {
	return Config{
		ResetSettle:   3 * time.Second,
		ActionSettle:  time.Second,
		WatchInterval: 500 * time.Millisecond,
		CloseTimeout:  2 * time.Second,
	}
}

// StepResult is the outcome of one environment step.
type StepResult struct {
	Obs    []float32
	Reward float64
	Done   bool
	// Outcome is set when Done is true.
	Outcome device.Outcome
}

// Env is a gym-style environment around one live match on the device. Reset
// begins an episode, Step advances it by one decision and Close releases the
// endgame watcher. Env methods are not safe for concurrent use.
type Env struct {
	exec     Executor
	detector Detector
	cfg      Config
	logger   zerolog.Logger

	rewards RewardState
	watch   *watcher

	matchOver    bool
	lastUnits    []vision.Detection
	lastFieldW   float64
	lastFieldH   float64
	prevTowers   int
	towersSeeded bool
}

// New creates an environment on top of a device executor and a detector.
func New(exec Executor, detector Detector, cfg Config, logger zerolog.Logger) *Env {
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 500 * time.Millisecond
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 2 * time.Second
	}
	return &Env{
		exec:     exec,
		detector: detector,
		cfg:      cfg,
		logger:   logger.With().Str("component", "env").Logger(),
	}
}

// Reset waits for the arena to settle, restarts the endgame watcher and
// returns the initial observation. A nil observation without an error means
// the detector saw nothing yet.
func (e *Env) Reset(ctx context.Context) ([]float32, error) {
	if err := sleepCtx(ctx, e.cfg.ResetSettle); err != nil {
		return nil, err
	}
	if err := e.stopWatcher(); err != nil {
		e.logger.Warn().Err(err).Msg("Previous watcher did not stop cleanly")
	}

	e.rewards.Reset()
	e.matchOver = false
	e.lastUnits = nil
	e.towersSeeded = false

	e.watch = newWatcher(e.exec, e.cfg.WatchInterval, e.logger)
	e.watch.Start()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	e.prevTowers = countEnemyPrincessTowers(snap.detections)
	e.towersSeeded = true

	e.logger.Info().Int("enemy_princess_towers", e.prevTowers).Msg("Episode reset")
	return snap.obs, nil
}

// Step advances the episode by one action. When a terminal outcome has been
// latched the action is ignored, the terminal reward is paid out and Done is
// set. While the end-of-match overlay is visible every action degrades to
// the no-op until the terminal outcome lands.
func (e *Env) Step(ctx context.Context, actionIndex int) (StepResult, error) {
	if !e.matchOver {
		over, err := e.exec.MatchOver(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Match over check failed")
		} else if over {
			e.logger.Info().Msg("Match over overlay detected, degrading to no-op")
			e.matchOver = true
		}
	}
	if e.matchOver {
		actionIndex = NoopIndex
	}

	if e.watch != nil {
		if outcome, ok := e.watch.Outcome(); ok {
			return e.finish(ctx, outcome)
		}
	}

	hand, err := e.readHand(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Hand read failed")
		hand = nil
	}

	if allUnknown(hand) {
		// Something is covering the card bar. Clear it and skip the move.
		if err := e.exec.DismissPopup(ctx); err != nil {
			return StepResult{}, err
		}
		snap, err := e.snapshot(ctx)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Obs: snap.obs}, nil
	}

	action, err := Decode(actionIndex)
	if err != nil {
		return StepResult{}, err
	}

	var played, spell bool
	var targetX, targetY int
	if !action.IsNoop() && action.Card < len(hand) {
		card := hand[action.Card]
		xFrac, yFrac := PlacementTarget(card, e.lastUnits, e.lastFieldW, e.lastFieldH)
		targetX, targetY = device.FieldToScreen(xFrac, yFrac)
		if err := e.exec.PlayCard(ctx, action.Card, targetX, targetY); err != nil {
			return StepResult{}, err
		}
		if err := sleepCtx(ctx, e.cfg.ActionSettle); err != nil {
			return StepResult{}, err
		}
		played = true
		spell = IsSpell(card)
		e.logger.Debug().Str("card", card).Int("x", targetX).Int("y", targetY).Msg("Card played")
	}

	snap, err := e.snapshot(ctx)
	if err != nil {
		return StepResult{}, err
	}

	var penalty float64
	if played && spell && !spellLanded(snap.obs, targetX, targetY) {
		penalty = -SpellPenalty
	}

	var bonus float64
	towers := countEnemyPrincessTowers(snap.detections)
	if e.towersSeeded && towers < e.prevTowers {
		bonus = TowerBonus
	}
	e.prevTowers = towers
	e.towersSeeded = true

	reward := e.rewards.Score(snap.obs) + penalty + bonus
	return StepResult{Obs: snap.obs, Reward: reward}, nil
}

// Snapshot reads the field without acting, for diagnostics. It returns
// ErrNoObservation when the detector reports nothing.
func (e *Env) Snapshot(ctx context.Context) ([]float32, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.obs == nil {
		return nil, ErrNoObservation
	}
	return snap.obs, nil
}

// Close stops the endgame watcher. The join is bounded by CloseTimeout.
func (e *Env) Close() error {
	return e.stopWatcher()
}

func (e *Env) stopWatcher() error {
	if e.watch == nil {
		return nil
	}
	err := e.watch.Stop(e.cfg.CloseTimeout)
	e.watch = nil
	return err
}

// finish consumes a latched terminal outcome: one last observation, the
// terminal reward on top of the shaped reward, and the overlay latch
// cleared for the next episode.
func (e *Env) finish(ctx context.Context, outcome device.Outcome) (StepResult, error) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		return StepResult{}, err
	}
	reward := e.rewards.Score(snap.obs)
	switch outcome {
	case device.OutcomeVictory:
		reward += TerminalReward
	case device.OutcomeDefeat:
		reward -= TerminalReward
	}
	e.matchOver = false

	e.logger.Info().Str("outcome", string(outcome)).Float64("reward", reward).Msg("Episode finished")
	return StepResult{Obs: snap.obs, Reward: reward, Done: true, Outcome: outcome}, nil
}

type snapshotData struct {
	obs        []float32
	detections []vision.Detection
	elixir     int
}

// snapshot captures the screen once and derives elixir, unit detections and
// the observation from that single capture.
func (e *Env) snapshot(ctx context.Context) (snapshotData, error) {
	frame, err := e.exec.Screenshot(ctx)
	if err != nil {
		return snapshotData{}, fmt.Errorf("capture field: %w", err)
	}
	elixir := device.CountElixir(frame)

	field, err := frame.Crop(device.FieldRect())
	if err != nil {
		return snapshotData{}, fmt.Errorf("crop field: %w", err)
	}
	img, err := field.EncodePNG()
	if err != nil {
		return snapshotData{}, err
	}

	detections, err := e.detector.DetectUnits(ctx, img)
	if err != nil {
		return snapshotData{}, err
	}
	if len(detections) > 0 {
		e.lastUnits = detections
		e.lastFieldW = float64(field.Width)
		e.lastFieldH = float64(field.Height)
	}

	obs := BuildObservation(elixir, detections, float64(field.Width), float64(field.Height))
	return snapshotData{obs: obs, detections: detections, elixir: elixir}, nil
}

// readHand classifies the four card bar crops from one screenshot. A slot
// whose classification fails reads as Unknown.
func (e *Env) readHand(ctx context.Context) ([]string, error) {
	frame, err := e.exec.Screenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture hand: %w", err)
	}

	hand := make([]string, 0, device.HandSize)
	for slot := 0; slot < device.HandSize; slot++ {
		crop, err := frame.Crop(device.CardSlotRect(slot))
		if err != nil {
			return nil, fmt.Errorf("crop card slot %d: %w", slot, err)
		}
		img, err := crop.EncodePNG()
		if err != nil {
			return nil, err
		}
		name, err := e.detector.ClassifyCard(ctx, img)
		if err != nil {
			e.logger.Warn().Err(err).Int("slot", slot).Msg("Card classification failed")
			name = vision.UnknownCard
		}
		hand = append(hand, name)
	}
	return hand, nil
}

// allUnknown reports whether no card in the hand is identifiable. An empty
// hand counts as all unknown.
func allUnknown(hand []string) bool {
	for _, card := range hand {
		if card != vision.UnknownCard {
			return false
		}
	}
	return true
}

func countEnemyPrincessTowers(detections []vision.Detection) int {
	count := 0
	for _, d := range detections {
		if d.IsEnemyPrincessTower() {
			count++
		}
	}
	return count
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
