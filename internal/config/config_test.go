package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Database: DBConfig{Driver: "sqlite", Path: "test.db"},
		GitHub:   GitHubConfig{StatusTokensPerHour: 10},
		Dispatch: DispatchConfig{
			TickInterval:       time.Second,
			RequestTimeout:     time.Minute,
			JobRetention:       time.Hour,
			SweepInterval:      time.Hour,
			PendingTimeoutDays: 1,
		},
		Status:  StatusConfig{PushInterval: time.Second},
		Storage: StorageConfig{DataDumpDirectory: "data"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Valid config", mutate: func(_ *Config) {}},
		{name: "Unknown driver", mutate: func(c *Config) { c.Database.Driver = "mongodb" }, wantErr: true},
		{name: "Zero tick interval", mutate: func(c *Config) { c.Dispatch.TickInterval = 0 }, wantErr: true},
		{name: "Zero pending timeout", mutate: func(c *Config) { c.Dispatch.PendingTimeoutDays = 0 }, wantErr: true},
		{name: "No status tokens", mutate: func(c *Config) { c.GitHub.StatusTokensPerHour = 0 }, wantErr: true},
		{name: "Missing data directory", mutate: func(c *Config) { c.Storage.DataDumpDirectory = "" }, wantErr: true},
		{name: "App without installation", mutate: func(c *Config) { c.GitHub.AppID = 7 }, wantErr: true},
		{
			name: "Backoff max below initial",
			mutate: func(c *Config) {
				c.Status.BackoffEnabled = true
				c.Status.BackoffInitial = time.Minute
				c.Status.BackoffMax = time.Second
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
database:
  driver: sqlite
  path: /tmp/runner.db
github:
  trusted_authors: [alice, bob]
  repos: [svaarala/duktape]
dispatch:
  request_timeout: 2m
  pending_timeout_days: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("TR_CONFIG", path)
	t.Setenv("TR_GITHUB_TOKEN", "secret-token")
	t.Setenv("TR_SERVER_PORT", "9999")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/runner.db", cfg.Database.Path)
	assert.Equal(t, []string{"alice", "bob"}, cfg.GitHub.TrustedAuthors)
	assert.Equal(t, []string{"svaarala/duktape"}, cfg.GitHub.Repos)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.RequestTimeout)
	assert.Equal(t, 72*time.Hour, cfg.Dispatch.PendingTimeout())
	assert.Equal(t, "secret-token", cfg.GitHub.Token)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Dispatch.TickInterval)
	assert.Equal(t, 600, cfg.GitHub.StatusTokensPerHour)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TR_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Dispatch.RequestTimeout)
	assert.Empty(t, cfg.GitHub.TrustedAuthors)
}

func TestDispatchConfig_LongPollDeadline(t *testing.T) {
	d := DispatchConfig{RequestTimeout: 5 * time.Minute, TickInterval: 45 * time.Second}
	assert.Equal(t, 5*time.Minute+45*time.Second, d.LongPollDeadline())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{" a, b", "c "}))
	assert.Equal(t, []string{}, splitList(nil))
}
