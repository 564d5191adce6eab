// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.StandardModel)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  auth:
    api_keys: ["k1", "k2"]

gemini:
  deep_model: "gemini-2.5-pro-exp"
  agent_temperature: 0.3
  thinking_budget: 1024

council:
  pre_phase: true

media:
  poll_interval: 5s

gate:
  stages: ["one", "two"]
  interval: 500ms

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.Auth.APIKeys)

	assert.Equal(t, "gemini-2.5-pro-exp", cfg.Gemini.DeepModel)
	assert.Equal(t, float32(0.3), cfg.Gemini.AgentTemperature)
	assert.Equal(t, int32(1024), cfg.Gemini.ThinkingBudget)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, "gemini-2.5-flash", cfg.Gemini.StandardModel)

	assert.True(t, cfg.Council.PrePhase)
	assert.Equal(t, 5*time.Second, cfg.Media.PollInterval)
	assert.Equal(t, []string{"one", "two"}, cfg.Gate.Stages)
	assert.Equal(t, 500*time.Millisecond, cfg.Gate.Interval)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"CODEXMIRROR_SERVER_HTTP_PORT":           "7777",
		"CODEXMIRROR_SERVER_AUTH_API_KEYS":       "a, b ,,c",
		"CODEXMIRROR_GEMINI_API_KEY":             "env-key",
		"CODEXMIRROR_GEMINI_TOP_P":               "0.8",
		"CODEXMIRROR_GEMINI_THINKING_BUDGET":     "2048",
		"CODEXMIRROR_GEMINI_REQUESTS_PER_SECOND": "2.5",
		"CODEXMIRROR_COUNCIL_PRE_PHASE":          "true",
		"CODEXMIRROR_MEDIA_VIDEO_TIMEOUT":        "3m",
		"CODEXMIRROR_GATE_STAGES":                "alpha,beta",
		"CODEXMIRROR_REDIS_ADDR":                 "env-redis:6379",
		"CODEXMIRROR_DATABASE_DRIVER":            "sqlite",
		"CODEXMIRROR_DATABASE_RETENTION":         "72h",
		"CODEXMIRROR_TELEMETRY_SAMPLE_RATE":      "0.5",
		"CODEXMIRROR_LOG_LEVEL":                  "warn",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Server.Auth.APIKeys)
	assert.Equal(t, "env-key", cfg.Gemini.APIKey)
	assert.InDelta(t, 0.8, float64(cfg.Gemini.TopP), 1e-6)
	assert.Equal(t, int32(2048), cfg.Gemini.ThinkingBudget)
	assert.Equal(t, 2.5, cfg.Gemini.RequestsPerSecond)
	assert.True(t, cfg.Council.PrePhase)
	assert.Equal(t, 3*time.Minute, cfg.Media.VideoTimeout)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Gate.Stages)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Database.Enabled())
	assert.Equal(t, 72*time.Hour, cfg.Database.Retention)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
gemini:
  standard_model: "yaml-flash"
  deep_model: "yaml-pro"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("CODEXMIRROR_SERVER_HTTP_PORT", "9999")
	t.Setenv("CODEXMIRROR_GEMINI_STANDARD_MODEL", "env-flash")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-flash", cfg.Gemini.StandardModel)
	assert.Equal(t, "yaml-pro", cfg.Gemini.DeepModel)
}

func TestLoader_GeminiAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " fallback-key ")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.Gemini.APIKey)

	t.Setenv("CODEXMIRROR_GEMINI_API_KEY", "explicit")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.Gemini.APIKey)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_BRIEFING_TTL", "1m")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, time.Minute, cfg.Briefing.TTL)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CODEXMIRROR_SERVER_HTTP_PORT", "not-a-port")
	_, err := NewLoader().Load()
	assert.ErrorContains(t, err, "CODEXMIRROR_SERVER_HTTP_PORT")

	t.Setenv("CODEXMIRROR_SERVER_HTTP_PORT", "8080")
	t.Setenv("CODEXMIRROR_MEDIA_POLL_INTERVAL", "ten seconds")
	_, err = NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}
	t.Setenv("CODEXMIRROR_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: ["), 0644))
	assert.Panics(t, func() { MustLoad(configPath) })
}

// --- Validate 测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"bad metrics port", func(c *Config) { c.Server.MetricsPort = 70000 }, "invalid metrics port"},
		{"same ports", func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, "must differ"},
		{"half tls", func(c *Config) { c.Server.CertFile = "cert.pem" }, "cert_file and key_file"},
		{"temperature", func(c *Config) { c.Gemini.AgentTemperature = 2.5 }, "agent_temperature"},
		{"top p", func(c *Config) { c.Gemini.TopP = 0 }, "top_p"},
		{"thinking budget", func(c *Config) { c.Gemini.ThinkingBudget = -1 }, "thinking_budget"},
		{"call timeout", func(c *Config) { c.Gemini.CallTimeout = 0 }, "timeouts"},
		{"poll interval", func(c *Config) { c.Media.PollInterval = 0 }, "poll_interval"},
		{"video timeout", func(c *Config) { c.Media.VideoTimeout = time.Second }, "video_timeout"},
		{"gate interval", func(c *Config) { c.Gate.Interval = 0 }, "gate.interval"},
		{"breaker", func(c *Config) { c.Breaker.Threshold = 0 }, "breaker.threshold"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }, "sample_rate"},
		{"sqlite archive", func(c *Config) { c.Database.Driver = "sqlite" }, ""},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "unknown database driver"},
		{"postgres without host", func(c *Config) { c.Database.Driver = "postgres" }, "database.host"},
		{"archive without name", func(c *Config) { c.Database.Driver = "sqlite"; c.Database.Name = "" }, "database.name"},
		{"negative retention", func(c *Config) { c.Database.Retention = -time.Hour }, "database.retention"},
		{"log level", func(c *Config) { c.Log.Level = "verbose" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
