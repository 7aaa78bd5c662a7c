package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Locate when a marker is absent from the screen.
var ErrNotFound = errors.New("marker not found")

// Outcome is a terminal match result.
type Outcome string

const (
	OutcomeVictory Outcome = "victory"
	OutcomeDefeat  Outcome = "defeat"
)

// UI markers and their screen search regions.
const (
	templateBattleStart = "battlestartbutton.png"
	templateWinner      = "Winner.png"
	templateMatchOver   = "matchover.png"
)

var (
	battleStartRegion = Rect{X: 400, Y: 600, W: 480, H: 100}
	winnerRegion      = Rect{X: 400, Y: 100, W: 480, H: 400}
	matchOverRegion   = Rect{X: 200, Y: 200, W: 880, H: 100}

	battleStartConfidences = []float64{0.8, 0.7, 0.6, 0.5}
	winnerConfidences      = []float64{0.8, 0.7, 0.6}
	matchOverConfidences   = []float64{0.8, 0.6, 0.4}
)

// The winner banner is drawn beside the winning side's half of the arena. A
// banner center below this line means the bottom (ally) side won.
const winnerBannerSplitY = 300

// Dead space for dismissing interstitials, and the post-game Play Again
// button.
const (
	deadspaceX = 640
	deadspaceY = 200

	playAgainX = 640
	playAgainY = 650
)

// Hand slots are bound to the emulator's number row.
var cardKeyCodes = [HandSize]int{8, 9, 10, 11}

type adbDriver interface {
	Screencap(ctx context.Context) (*Frame, error)
	Tap(ctx context.Context, x, y int) error
	KeyEvent(ctx context.Context, code int) error
}

type templateFinder interface {
	Find(frame *Frame, name string, region Rect, confidences []float64) (Match, bool, error)
}

// Executor drives the game UI through adb input and template matching.
type Executor struct {
	adb    adbDriver
	finder templateFinder
	logger zerolog.Logger

	keyDelay    time.Duration
	popupSettle time.Duration
	startSettle time.Duration
	endSettle   time.Duration
	retryDelay  time.Duration
}

// NewExecutor wires an adb driver and a template finder into a UI executor.
func NewExecutor(adb adbDriver, finder templateFinder, logger zerolog.Logger) *Executor {
	return &Executor{
		adb:         adb,
		finder:      finder,
		logger:      logger.With().Str("component", "executor").Logger(),
		keyDelay:    200 * time.Millisecond,
		popupSettle: time.Second,
		startSettle: 2 * time.Second,
		endSettle:   3 * time.Second,
		retryDelay:  time.Second,
	}
}

// Screenshot captures the current screen.
func (e *Executor) Screenshot(ctx context.Context) (*Frame, error) {
	return e.adb.Screencap(ctx)
}

// Locate captures the screen and searches the given region for a marker.
// A clean miss is reported as ErrNotFound.
func (e *Executor) Locate(ctx context.Context, name string, region Rect, confidences []float64) (Match, error) {
	frame, err := e.adb.Screencap(ctx)
	if err != nil {
		return Match{}, err
	}
	match, found, err := e.finder.Find(frame, name, region, confidences)
	if err != nil {
		return Match{}, err
	}
	if !found {
		return Match{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return match, nil
}

// PlayCard selects a hand slot by key press and taps the placement target.
func (e *Executor) PlayCard(ctx context.Context, slot, x, y int) error {
	if slot < 0 || slot >= HandSize {
		return fmt.Errorf("hand slot %d out of range", slot)
	}
	if err := e.adb.KeyEvent(ctx, cardKeyCodes[slot]); err != nil {
		return fmt.Errorf("select card %d: %w", slot, err)
	}
	if err := e.sleep(ctx, e.keyDelay); err != nil {
		return err
	}
	if err := e.adb.Tap(ctx, x, y); err != nil {
		return fmt.Errorf("place card %d: %w", slot, err)
	}
	e.logger.Debug().Int("slot", slot).Int("x", x).Int("y", y).Msg("Card played")
	return nil
}

// WaitForBattleStart taps through menus until the battle start button shows
// up, presses it and waits for the arena to load.
func (e *Executor) WaitForBattleStart(ctx context.Context) error {
	for {
		match, err := e.Locate(ctx, templateBattleStart, battleStartRegion, battleStartConfidences)
		switch {
		case err == nil:
			if err := e.adb.Tap(ctx, match.X, match.Y); err != nil {
				return fmt.Errorf("tap battle start: %w", err)
			}
			e.logger.Info().Int("x", match.X).Int("y", match.Y).Msg("Battle started")
			return e.sleep(ctx, e.startSettle)
		case errors.Is(err, ErrNotFound):
			// Some interstitial is covering the menu. Tap dead space
			// and look again.
			if err := e.adb.Tap(ctx, deadspaceX, deadspaceY); err != nil {
				return fmt.Errorf("dismiss interstitial: %w", err)
			}
			if err := e.sleep(ctx, e.retryDelay); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// DismissPopup taps dead space to clear an overlay that hides the hand.
func (e *Executor) DismissPopup(ctx context.Context) error {
	if err := e.adb.Tap(ctx, deadspaceX, deadspaceY); err != nil {
		return fmt.Errorf("dismiss popup: %w", err)
	}
	return e.sleep(ctx, e.popupSettle)
}

// MatchOver reports whether the end-of-match overlay is on screen.
func (e *Executor) MatchOver(ctx context.Context) (bool, error) {
	_, err := e.Locate(ctx, templateMatchOver, matchOverRegion, matchOverConfidences)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CheckTerminal looks for the winner banner. When it is found the outcome is
// derived from the banner position and the next match is queued through Play
// Again. The outcome is valid whenever found is true, even if queueing the
// next match failed.
func (e *Executor) CheckTerminal(ctx context.Context) (Outcome, bool, error) {
	match, err := e.Locate(ctx, templateWinner, winnerRegion, winnerConfidences)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	outcome := OutcomeDefeat
	if match.Y > winnerBannerSplitY {
		outcome = OutcomeVictory
	}
	e.logger.Info().Str("outcome", string(outcome)).Int("banner_y", match.Y).Msg("Match ended")

	if err := e.sleep(ctx, e.endSettle); err != nil {
		return outcome, true, err
	}
	if err := e.adb.Tap(ctx, playAgainX, playAgainY); err != nil {
		return outcome, true, fmt.Errorf("tap play again: %w", err)
	}
	return outcome, true, nil
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
