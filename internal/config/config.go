package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler" validate:"required"`
	RunningHub RunningHubConfig `mapstructure:"runninghub" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// AllowedOrigins lists host patterns allowed to open the WebSocket
	// stream from a browser. Same-origin requests are always accepted.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SchedulerConfig controls timing of the background task scheduler.
// Concurrency is a runtime setting and lives in the settings store instead.
type SchedulerConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"required,gt=0"`
	Watchdog         time.Duration `mapstructure:"watchdog" validate:"required,gt=0"`
	SubmitTimeout    time.Duration `mapstructure:"submit_timeout" validate:"required,gt=0"`
	CancelTimeout    time.Duration `mapstructure:"cancel_timeout" validate:"required,gt=0"`
	BatchStagger     time.Duration `mapstructure:"batch_stagger" validate:"gte=0"`
	ReconcileOnStart bool          `mapstructure:"reconcile_on_start"`
}

// RunningHubConfig contains remote workflow API settings.
type RunningHubConfig struct {
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required,gt=0"`
	// APIKey seeds the runtime settings store on first start.
	APIKey string `mapstructure:"api_key"`
}

// StorageConfig selects where finished task history and settings are kept.
type StorageConfig struct {
	Backend      string `mapstructure:"backend" validate:"required,oneof=file postgres"`
	HistoryPath  string `mapstructure:"history_path" validate:"required_if=Backend file"`
	SettingsPath string `mapstructure:"settings_path" validate:"required"`
	OutputDir    string `mapstructure:"output_dir" validate:"required"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// AuthConfig contains API authentication settings. Authentication is
// disabled when JWTSecret is empty.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"omitempty,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// NATSConfig enables publishing task events to NATS when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url" validate:"omitempty,url"`
	SubjectPrefix string `mapstructure:"subject_prefix" validate:"required"`
}

// TelemetryConfig controls OpenTelemetry instrumentation.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name" validate:"required"`
}
