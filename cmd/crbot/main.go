package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/krazyness/CRBot-public/internal/config"
	"github.com/krazyness/CRBot-public/internal/device"
	"github.com/krazyness/CRBot-public/internal/env"
	"github.com/krazyness/CRBot-public/internal/events"
	"github.com/krazyness/CRBot-public/internal/health"
	"github.com/krazyness/CRBot-public/internal/httpapi"
	"github.com/krazyness/CRBot-public/internal/policy"
	"github.com/krazyness/CRBot-public/internal/recorder"
	"github.com/krazyness/CRBot-public/internal/runner"
	"github.com/krazyness/CRBot-public/internal/vision"
)

var rootCmd = &cobra.Command{
	Use:   "crbot",
	Short: "Clash Royale reinforcement learning bot",
	Long: `crbot plays Clash Royale on an Android device over ADB.

It reads the battlefield through a detection service, plays cards with a
policy and records every transition for offline training.`,
	SilenceUsage: true,
	RunE:         runBot,
}

func init() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()

	// Detection service
	flags.String("detection-api-key", defaults.DetectionAPIKey, "Detection service API key")
	flags.String("detection-base-url", defaults.DetectionBaseURL, "Detection service base URL")
	flags.String("unit-workspace", defaults.UnitWorkspace, "Workspace of the unit detection workflow")
	flags.String("unit-workflow", defaults.UnitWorkflow, "Unit detection workflow ID")
	flags.String("card-workspace", defaults.CardWorkspace, "Workspace of the card classification workflow")
	flags.String("card-workflow", defaults.CardWorkflow, "Card classification workflow ID")

	// Device settings
	flags.String("adb-path", defaults.ADBPath, "Path to the adb binary")
	flags.String("adb-serial", defaults.ADBSerial, "Device serial when several devices are attached")
	flags.String("template-dir", defaults.TemplateDir, "Directory holding screen template images")

	// Episode settings
	flags.String("run-id", defaults.RunID, "Unique identifier for this run")
	flags.Int("max-episodes", defaults.MaxEpisodes, "Maximum episodes to run (-1 for unlimited)")
	flags.Int("max-steps", defaults.MaxSteps, "Maximum steps per episode")
	flags.Int("batch-size", defaults.BatchSize, "Transitions saved per store call")
	flags.Duration("episode-timeout", defaults.EpisodeTimeout, "Timeout per episode")
	flags.Duration("watch-interval", defaults.WatchInterval, "End-of-match polling period")
	flags.Duration("reset-settle", defaults.ResetSettle, "Wait after reset before the first observation")
	flags.Duration("close-timeout", defaults.CloseTimeout, "How long Close waits for the endgame watcher")

	// Transition recording
	flags.String("recorder-backend", defaults.RecorderBackend, "Transition store backend (jsonl, postgres, memory, none)")
	flags.String("recorder-dir", defaults.RecorderDir, "Directory for jsonl transition files")
	flags.String("postgres-dsn", defaults.PostgresDSN, "PostgreSQL DSN for the postgres backend")

	// Episode events
	flags.String("nats-url", defaults.NATSURL, "NATS server URL (empty disables event publishing)")
	flags.String("nats-subject", defaults.NATSSubject, "Base NATS subject for episode events")

	// Operational surface
	flags.String("http-addr", defaults.HTTPAddr, "Status API listen address")
	flags.Duration("health-interval", defaults.HealthInterval, "Interval between dependency health checks")

	// Logging
	flags.String("log-level", defaults.LogLevel, "Log level (debug, info, warn, error)")

	// Bind flags to viper for environment variable support
	viper.BindPFlags(flags)
	viper.SetEnvPrefix("CRBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newLogger(level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		logger.Warn().Str("log_level", level).Msg("Unknown log level, using info")
		return logger.Level(zerolog.InfoLevel)
	}
	return logger.Level(parsed)
}

func runBot(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	cfg := config.FromViper()
	logger := newLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info().
		Str("run_id", cfg.RunID).
		Str("adb_path", cfg.ADBPath).
		Str("detection_base_url", cfg.DetectionBaseURL).
		Str("recorder_backend", cfg.RecorderBackend).
		Msg("Starting crbot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Shutdown signal received, stopping bot")
		cancel()
	}()

	// Device automation
	adb := device.NewRunner(cfg.ADBPath, cfg.ADBSerial, logger)
	matcher := device.NewMatcher(cfg.TemplateDir, logger)
	defer matcher.Close()
	executor := device.NewExecutor(adb, matcher, logger)

	// Vision
	detector := vision.NewClient(vision.ClientConfig{
		BaseURL:       cfg.DetectionBaseURL,
		APIKey:        cfg.DetectionAPIKey,
		UnitWorkspace: cfg.UnitWorkspace,
		UnitWorkflow:  cfg.UnitWorkflow,
		CardWorkspace: cfg.CardWorkspace,
		CardWorkflow:  cfg.CardWorkflow,
	}, logger)

	// Environment
	envCfg := env.DefaultConfig()
	envCfg.ResetSettle = cfg.ResetSettle
	envCfg.WatchInterval = cfg.WatchInterval
	envCfg.CloseTimeout = cfg.CloseTimeout
	environment := env.New(executor, detector, envCfg, logger)
	defer func() {
		if err := environment.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close environment")
		}
	}()

	// Transition store
	store, err := recorder.Open(ctx, recorder.Config{
		Backend: cfg.RecorderBackend,
		Dir:     cfg.RecorderDir,
		RunID:   cfg.RunID,
		DSN:     cfg.PostgresDSN,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open transition store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close transition store")
		}
	}()

	// Episode events
	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsPublisher.Close()
		publisher = natsPublisher
	}

	pol := policy.NewRandom(time.Now().UnixNano())
	run := runner.New(runner.Config{
		RunID:          cfg.RunID,
		MaxEpisodes:    cfg.MaxEpisodes,
		MaxSteps:       cfg.MaxSteps,
		BatchSize:      cfg.BatchSize,
		EpisodeTimeout: cfg.EpisodeTimeout,
	}, environment, pol, store, publisher, logger)

	// Dependency health checks
	monitor := health.NewMonitor([]health.Check{
		{Name: "device", Probe: adb.Ping},
		{Name: "detector", Probe: detector.Ping},
	}, health.Config{CheckInterval: cfg.HealthInterval}, logger)
	go monitor.Start(ctx)

	// Status API
	api := httpapi.NewServer(monitor, run, logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("Status API starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Status API failed")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Status API shutdown failed")
		}
	}()

	// Get the first match on screen before handing control to the runner.
	// Play Again after each result keeps the following matches flowing.
	if err := executor.WaitForBattleStart(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to reach a battle: %w", err)
	}

	if err := run.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("runner failed: %w", err)
	}

	logger.Info().Msg("Bot stopped gracefully")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
