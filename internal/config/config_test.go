package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Setenv(APIHostEnv, "")

	yaml := `
instance:
  id: test-feed
api:
  host: https://markets.example.com
  token: abc
stream:
  channel: prediction-markets
  reconnect_base_delay: 2s
  max_reconnect_attempts: 7
poller:
  interval: 45s
database:
  postgres:
    host: localhost
    port: 5432
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-feed" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-feed")
	}
	if cfg.API.Host != "https://markets.example.com" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "https://markets.example.com")
	}
	if cfg.Stream.ReconnectBaseDelay != 2*time.Second {
		t.Errorf("Stream.ReconnectBaseDelay = %v, want %v", cfg.Stream.ReconnectBaseDelay, 2*time.Second)
	}
	if got := cfg.Stream.ReconnectAttempts(); got != 7 {
		t.Errorf("Stream.ReconnectAttempts() = %d, want 7", got)
	}
	if cfg.Poller.Interval != 45*time.Second {
		t.Errorf("Poller.Interval = %v, want %v", cfg.Poller.Interval, 45*time.Second)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want %q", cfg.Database.Postgres.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_TOKEN", "secret123")

	yaml := `
api:
  token: ${TEST_API_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadAPIHostOverride(t *testing.T) {
	t.Setenv(APIHostEnv, "http://backend:9000")

	path := writeTempFile(t, "api:\n  host: http://ignored:8000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Host != "http://backend:9000" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "http://backend:9000")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	t.Setenv(APIHostEnv, "")

	cfg, err := LoadAndValidate("")
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.API.Host != DefaultAPIHost {
		t.Errorf("API.Host = %q, want default %q", cfg.API.Host, DefaultAPIHost)
	}
	if cfg.Database.Postgres.Enabled() {
		t.Error("Database.Postgres should be disabled without a host")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("Load error = %v, want read config file error", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempFile(t, "api: [unclosed")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("Load error = %v, want parse config yaml error", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	t.Setenv(APIHostEnv, "")

	yaml := `
database:
  postgres:
    host: localhost
    name: test_db
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.Host != DefaultAPIHost {
		t.Errorf("API.Host = %q, want default %q", cfg.API.Host, DefaultAPIHost)
	}
	if cfg.Stream.Channel != DefaultChannel {
		t.Errorf("Stream.Channel = %q, want default %q", cfg.Stream.Channel, DefaultChannel)
	}
	if got := cfg.Stream.ReconnectAttempts(); got != DefaultMaxReconnectAttempts {
		t.Errorf("Stream.ReconnectAttempts() = %d, want default %d", got, DefaultMaxReconnectAttempts)
	}
	if cfg.Poller.Interval != DefaultPollInterval {
		t.Errorf("Poller.Interval = %v, want default %v", cfg.Poller.Interval, DefaultPollInterval)
	}
	if cfg.Probe.Timeout != DefaultProbeTimeout {
		t.Errorf("Probe.Timeout = %v, want default %v", cfg.Probe.Timeout, DefaultProbeTimeout)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want default %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, DefaultLogFormat)
	}
}

func TestLoadWithDefaultsKeepsZeroReconnectAttempts(t *testing.T) {
	t.Setenv(APIHostEnv, "")

	path := writeTempFile(t, `
stream:
  max_reconnect_attempts: 0
`)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if got := cfg.Stream.ReconnectAttempts(); got != 0 {
		t.Errorf("Stream.ReconnectAttempts() = %d, want 0", got)
	}
}

func validConfig() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "bad api host scheme",
			mutate:  func(c *Config) { c.API.Host = "ftp://example.com" },
			wantErr: `api.host scheme must be http or https, got "ftp"`,
		},
		{
			name:    "api host without host part",
			mutate:  func(c *Config) { c.API.Host = "localhost" },
			wantErr: `api.host "localhost" is not a valid URL`,
		},
		{
			name:    "negative reconnect attempts",
			mutate: func(c *Config) {
				attempts := -1
				c.Stream.MaxReconnectAttempts = &attempts
			},
			wantErr: "stream.max_reconnect_attempts must be >= 0",
		},
		{
			name:    "ping timeout shorter than interval",
			mutate:  func(c *Config) { c.Stream.PingTimeout = time.Second },
			wantErr: "stream.ping_timeout (1s) cannot be shorter than ping_interval (30s)",
		},
		{
			name:    "poller limit",
			mutate:  func(c *Config) { c.Poller.Limit = -2 },
			wantErr: "poller.limit must be >= 1",
		},
		{
			name: "missing postgres name",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", User: "user", MaxConns: 5}
			},
			wantErr: "database.postgres.name is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "metrics port",
			mutate:  func(c *Config) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: `logging.level must be one of debug, info, warn, error, got "trace"`,
		},
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
		{
			name: "valid config with postgres",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 10, MinConns: 2}
			},
			wantErr: "",
		},
		{
			name:    "valid defaults",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
