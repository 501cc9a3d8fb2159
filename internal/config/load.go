package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable Load reads,
// e.g. RHQ_SERVER_PORT.
const EnvPrefix = "RHQ"

// ConfigFileEnv names the environment variable holding an optional config file path.
const ConfigFileEnv = "RHQ_CONFIG_FILE"

// Load configuration from environment variables and optionally a config file.
// Environment variables take precedence over values from the config file.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// key without a default is bound explicitly.
	for _, key := range []string{
		"runninghub.api_key",
		"database.url",
		"auth.jwt_secret",
		"nats.url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if cfg.Storage.Backend == "postgres" && cfg.Database.URL == "" {
		return errors.New("validation failed: database.url is required for the postgres storage backend")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("scheduler.poll_interval", "3s")
	v.SetDefault("scheduler.watchdog", "60m")
	v.SetDefault("scheduler.submit_timeout", "30s")
	v.SetDefault("scheduler.cancel_timeout", "10s")
	v.SetDefault("scheduler.batch_stagger", "100ms")
	v.SetDefault("scheduler.reconcile_on_start", false)

	v.SetDefault("runninghub.base_url", "https://www.runninghub.cn")
	v.SetDefault("runninghub.request_timeout", "30s")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.history_path", "data/history.json")
	v.SetDefault("storage.settings_path", "data/settings.json")
	v.SetDefault("storage.output_dir", "output")

	v.SetDefault("auth.token_lifetime_minutes", 60*24)

	v.SetDefault("nats.subject_prefix", "rhqueue.tasks")

	v.SetDefault("telemetry.service_name", "rhqueue")
}
