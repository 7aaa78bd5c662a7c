package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all bot configuration
type Config struct {
	// Detection service
	DetectionAPIKey  string `mapstructure:"detection_api_key"`
	DetectionBaseURL string `mapstructure:"detection_base_url"`
	UnitWorkspace    string `mapstructure:"unit_workspace"`
	CardWorkspace    string `mapstructure:"card_workspace"`
	UnitWorkflow     string `mapstructure:"unit_workflow"`
	CardWorkflow     string `mapstructure:"card_workflow"`

	// Device automation
	ADBPath     string `mapstructure:"adb_path"`
	ADBSerial   string `mapstructure:"adb_serial"`
	TemplateDir string `mapstructure:"template_dir"`

	// Run settings
	RunID          string        `mapstructure:"run_id"`
	MaxEpisodes    int           `mapstructure:"max_episodes"`
	MaxSteps       int           `mapstructure:"max_steps"`
	BatchSize      int           `mapstructure:"batch_size"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout"`

	// Episode timing
	WatchInterval time.Duration `mapstructure:"watch_interval"`
	ResetSettle   time.Duration `mapstructure:"reset_settle"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout"`

	// Transition recording
	RecorderBackend string `mapstructure:"recorder_backend"`
	RecorderDir     string `mapstructure:"recorder_dir"`
	PostgresDSN     string `mapstructure:"postgres_dsn"`

	// Telemetry
	NATSURL     string `mapstructure:"nats_url"`
	NATSSubject string `mapstructure:"nats_subject"`

	// Operational surface
	HTTPAddr       string        `mapstructure:"http_addr"`
	HealthInterval time.Duration `mapstructure:"health_interval"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
}

// Default returns a config with sensible defaults
func Default() *Config {
	return &Config{
		DetectionBaseURL: "http://localhost:9001",
		UnitWorkflow:     "detect-count-and-visualize",
		CardWorkflow:     "custom-workflow",
		ADBPath:          "adb",
		TemplateDir:      "main_images",
		RunID:            "crbot-1",
		MaxEpisodes:      -1, // unlimited
		MaxSteps:         500,
		BatchSize:        32,
		EpisodeTimeout:   10 * time.Minute,
		WatchInterval:    500 * time.Millisecond,
		ResetSettle:      3 * time.Second,
		CloseTimeout:     2 * time.Second,
		RecorderBackend:  "jsonl",
		RecorderDir:      "data",
		NATSSubject:      "crbot.runs",
		HTTPAddr:         ":8080",
		HealthInterval:   15 * time.Second,
		LogLevel:         "info",
	}
}

// FromViper builds a Config from the resolved viper state (flags, then
// CRBOT_* environment variables, then flag defaults).
func FromViper() *Config {
	return &Config{
		DetectionAPIKey:  viper.GetString("detection-api-key"),
		DetectionBaseURL: viper.GetString("detection-base-url"),
		UnitWorkspace:    viper.GetString("unit-workspace"),
		CardWorkspace:    viper.GetString("card-workspace"),
		UnitWorkflow:     viper.GetString("unit-workflow"),
		CardWorkflow:     viper.GetString("card-workflow"),
		ADBPath:          viper.GetString("adb-path"),
		ADBSerial:        viper.GetString("adb-serial"),
		TemplateDir:      viper.GetString("template-dir"),
		RunID:            viper.GetString("run-id"),
		MaxEpisodes:      viper.GetInt("max-episodes"),
		MaxSteps:         viper.GetInt("max-steps"),
		BatchSize:        viper.GetInt("batch-size"),
		EpisodeTimeout:   viper.GetDuration("episode-timeout"),
		WatchInterval:    viper.GetDuration("watch-interval"),
		ResetSettle:      viper.GetDuration("reset-settle"),
		CloseTimeout:     viper.GetDuration("close-timeout"),
		RecorderBackend:  viper.GetString("recorder-backend"),
		RecorderDir:      viper.GetString("recorder-dir"),
		PostgresDSN:      viper.GetString("postgres-dsn"),
		NATSURL:          viper.GetString("nats-url"),
		NATSSubject:      viper.GetString("nats-subject"),
		HTTPAddr:         viper.GetString("http-addr"),
		HealthInterval:   viper.GetDuration("health-interval"),
		LogLevel:         viper.GetString("log-level"),
	}
}

// Validate checks if the configuration is valid. Detection credentials and
// both workspace identifiers are hard requirements; a bot without them cannot
// observe the game at all.
func (c *Config) Validate() error {
	if c.DetectionAPIKey == "" {
		return fmt.Errorf("detection_api_key is required")
	}
	if c.UnitWorkspace == "" {
		return fmt.Errorf("unit_workspace is required")
	}
	if c.CardWorkspace == "" {
		return fmt.Errorf("card_workspace is required")
	}
	if c.DetectionBaseURL == "" {
		return fmt.Errorf("detection_base_url is required")
	}
	if c.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.EpisodeTimeout <= 0 {
		return fmt.Errorf("episode_timeout must be positive")
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("watch_interval must be positive")
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("close_timeout must be positive")
	}
	switch c.RecorderBackend {
	case "jsonl":
		if c.RecorderDir == "" {
			return fmt.Errorf("recorder_dir is required for the jsonl backend")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres backend")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("recorder_backend must be one of jsonl, postgres, memory, none")
	}
	return nil
}
