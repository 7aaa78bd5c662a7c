package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/krazyness/CRBot-public/internal/config"
	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/env"
	"github.com/krazyness/CRBot-public/internal/vision"
)

const doctorTimeout = 30 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the device and detection service are reachable",
	Long: `doctor probes every dependency the bot needs before a run: the ADB
connection, the detection service, and the full screenshot-to-observation
pipeline. Run it with the game on screen to verify a setup end to end.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg := config.FromViper()
	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), doctorTimeout)
	defer cancel()

	adb := device.NewRunner(cfg.ADBPath, cfg.ADBSerial, logger)
	if err := adb.Ping(ctx); err != nil {
		return fmt.Errorf("device check failed: %w", err)
	}
	fmt.Println("device: ok")

	detector := vision.NewClient(vision.ClientConfig{
		BaseURL:       cfg.DetectionBaseURL,
		APIKey:        cfg.DetectionAPIKey,
		UnitWorkspace: cfg.UnitWorkspace,
		UnitWorkflow:  cfg.UnitWorkflow,
		CardWorkspace: cfg.CardWorkspace,
		CardWorkflow:  cfg.CardWorkflow,
	}, logger)
	if err := detector.Ping(ctx); err != nil {
		return fmt.Errorf("detection service check failed: %w", err)
	}
	fmt.Println("detection service: ok")

	matcher := device.NewMatcher(cfg.TemplateDir, logger)
	defer matcher.Close()
	executor := device.NewExecutor(adb, matcher, logger)
	environment := env.New(executor, detector, env.DefaultConfig(), logger)

	obs, err := environment.Snapshot(ctx)
	switch {
	case errors.Is(err, env.ErrNoObservation):
		fmt.Println("snapshot: pipeline reachable, no units detected on screen")
	case err != nil:
		return fmt.Errorf("snapshot failed: %w", err)
	default:
		fmt.Printf("snapshot: %d values, elixir %.0f/%d\n",
			len(obs), float64(obs[0])*device.MaxElixir, device.MaxElixir)
	}

	return nil
}
