package device

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Runner shells out to adb for screen capture and input injection.
type Runner struct {
	path   string
	serial string
	logger zerolog.Logger
}

// NewRunner creates an adb runner. serial may be empty when only one device
// is attached.
func NewRunner(path, serial string, logger zerolog.Logger) *Runner {
	return &Runner{
		path:   path,
		serial: serial,
		logger: logger.With().Str("component", "adb").Logger(),
	}
}

func (r *Runner) deviceArgs(rest ...string) []string {
	if r.serial == "" {
		return rest
	}
	return append([]string{"-s", r.serial}, rest...)
}

// Screencap captures the device screen as a raw RGBA frame. exec-out avoids
// the pty newline mangling that corrupts binary output over `adb shell`.
func (r *Runner) Screencap(ctx context.Context) (*Frame, error) {
	cmd := exec.CommandContext(ctx, r.path, r.deviceArgs("exec-out", "screencap")...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("adb screencap: %w", err)
	}
	frame, err := ParseScreencap(out)
	if err != nil {
		return nil, fmt.Errorf("adb screencap: %w", err)
	}
	return frame, nil
}

// Tap injects a tap at the given screen coordinates.
func (r *Runner) Tap(ctx context.Context, x, y int) error {
	return r.shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
}

// KeyEvent injects a key press.
func (r *Runner) KeyEvent(ctx context.Context, code int) error {
	return r.shell(ctx, "input", "keyevent", strconv.Itoa(code))
}

func (r *Runner) shell(ctx context.Context, args ...string) error {
	full := r.deviceArgs(append([]string{"shell"}, args...)...)
	cmd := exec.CommandContext(ctx, r.path, full...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("adb %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	r.logger.Debug().Strs("args", args).Msg("adb shell")
	return nil
}

// Ping verifies the device is attached and responsive.
func (r *Runner) Ping(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, r.path, r.deviceArgs("get-state")...)
	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("adb get-state: %w", err)
	}
	if state := strings.TrimSpace(string(out)); state != "device" {
		return fmt.Errorf("adb device state %q", state)
	}
	return nil
}
