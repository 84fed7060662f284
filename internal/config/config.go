package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sevigo/testrunner/internal/logger"
)

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DBConfig       `mapstructure:"database"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Status   StatusConfig   `mapstructure:"status"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  logger.Config  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP listener and the worker API credentials.
type ServerConfig struct {
	Port           string `mapstructure:"port"`
	WebBaseURI     string `mapstructure:"web_base_uri"`
	ClientUsername string `mapstructure:"client_username"`
	ClientPassword string `mapstructure:"client_password"`
}

// DBConfig selects and configures the job store database.
type DBConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// GitHubConfig holds webhook and status API settings.
type GitHubConfig struct {
	WebhookSecret       string   `mapstructure:"webhook_secret"`
	Token               string   `mapstructure:"token"`
	AppID               int64    `mapstructure:"app_id"`
	InstallationID      int64    `mapstructure:"installation_id"`
	PrivateKeyPath      string   `mapstructure:"private_key_path"`
	StatusTokensPerHour int      `mapstructure:"status_tokens_per_hour"`
	TrustedAuthors      []string `mapstructure:"trusted_authors"`
	Repos               []string `mapstructure:"repos"`
	DefaultBranch       string   `mapstructure:"default_branch"`
}

// DispatchConfig tunes the matcher and the staleness sweeper.
type DispatchConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	JobRetention       time.Duration `mapstructure:"job_retention"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	PendingTimeoutDays int           `mapstructure:"pending_timeout_days"`
}

// PendingTimeout is the age after which an unfinished run is reopened.
func (d DispatchConfig) PendingTimeout() time.Duration {
	return time.Duration(d.PendingTimeoutDays) * 24 * time.Hour
}

// LongPollDeadline is the longest a worker long-poll can stay open. Expiry is
// only checked on a tick, so a request can outlive its timeout by one tick.
func (d DispatchConfig) LongPollDeadline() time.Duration {
	return d.RequestTimeout + d.TickInterval
}

// StatusConfig tunes the status reconciler.
type StatusConfig struct {
	PushInterval   time.Duration `mapstructure:"push_interval"`
	BackoffEnabled bool          `mapstructure:"backoff_enabled"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// StorageConfig locates the output blob directory.
type StorageConfig struct {
	DataDumpDirectory string `mapstructure:"data_dump_directory"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.web_base_uri", "http://localhost:8080")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "testrunner")
	v.SetDefault("database.path", "testrunner.db")
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("github.status_tokens_per_hour", 600)
	v.SetDefault("github.default_branch", "master")
	v.SetDefault("github.private_key_path", "keys/testrunner.private-key.pem")

	v.SetDefault("dispatch.tick_interval", 5*time.Second)
	v.SetDefault("dispatch.request_timeout", 5*time.Minute)
	v.SetDefault("dispatch.job_retention", 72*time.Hour)
	v.SetDefault("dispatch.sweep_interval", time.Hour)
	v.SetDefault("dispatch.pending_timeout_days", 1)

	v.SetDefault("status.push_interval", 5*time.Second)
	v.SetDefault("status.backoff_enabled", false)
	v.SetDefault("status.backoff_initial", 30*time.Second)
	v.SetDefault("status.backoff_max", time.Hour)

	v.SetDefault("storage.data_dump_directory", "./data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "testrunner.log")

	// Keys without a default are only visible to Unmarshal once bound. The
	// env prefix must already be set.
	for _, key := range []string{
		"server.client_username", "server.client_password",
		"database.username", "database.password",
		"github.webhook_secret", "github.token", "github.app_id", "github.installation_id",
		"github.trusted_authors", "github.repos",
	} {
		_ = v.BindEnv(key)
	}
}

// LoadConfig reads configuration from a YAML file and TR_* environment
// variables, sets sensible defaults, and validates the result. The config
// file defaults to ./config.yaml and can be moved with TR_CONFIG.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	configFile := os.Getenv("TR_CONFIG")
	if configFile == "" {
		configFile = "config.yaml"
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		slog.Debug("no config file found, using defaults and environment", "file", configFile)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// Entries of comma separated lists may carry surrounding whitespace.
	cfg.GitHub.TrustedAuthors = splitList(cfg.GitHub.TrustedAuthors)
	cfg.GitHub.Repos = splitList(cfg.GitHub.Repos)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(values []string) []string {
	out := []string{}
	for _, value := range values {
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	durations := map[string]time.Duration{
		"dispatch.tick_interval":   c.Dispatch.TickInterval,
		"dispatch.request_timeout": c.Dispatch.RequestTimeout,
		"dispatch.job_retention":   c.Dispatch.JobRetention,
		"dispatch.sweep_interval":  c.Dispatch.SweepInterval,
		"status.push_interval":     c.Status.PushInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}

	if c.Dispatch.PendingTimeoutDays < 1 {
		return fmt.Errorf("dispatch.pending_timeout_days must be at least 1")
	}
	if c.GitHub.StatusTokensPerHour < 1 {
		return fmt.Errorf("github.status_tokens_per_hour must be at least 1")
	}
	if c.Status.BackoffEnabled && (c.Status.BackoffInitial <= 0 || c.Status.BackoffMax < c.Status.BackoffInitial) {
		return fmt.Errorf("status backoff requires 0 < backoff_initial <= backoff_max")
	}
	if c.Storage.DataDumpDirectory == "" {
		return fmt.Errorf("storage.data_dump_directory must be set")
	}
	if c.GitHub.AppID != 0 && c.GitHub.InstallationID == 0 {
		return fmt.Errorf("github.installation_id must be set when github.app_id is set")
	}
	return nil
}
