package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Account.FID = "42"
	cfg.Account.SignerUUID = "signer"
	cfg.Neynar.APIKey = "key"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 320, cfg.Generation.MaxReplyLength)
	assert.Equal(t, DedupSQLite, cfg.Dedup.Backend)
	assert.Equal(t, SkipConservative, cfg.Dedup.SkipPolicy)
	assert.Equal(t, 7*24*time.Hour, cfg.Retention())
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Equal(t, time.Minute, cfg.PollInterval())
	assert.Equal(t, 3*time.Minute, cfg.LeaseTTL())
	require.Len(t, cfg.Generation.Backends, 3)
	assert.Equal(t, RoleVision, cfg.Generation.Backends[0].Role)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	err := Default().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account.fid is required")
	assert.Contains(t, err.Error(), "neynar.api_key is required")

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres without url", func(c *Config) { c.Dedup.Backend = DedupPostgres }, "database_url"},
		{"unknown backend", func(c *Config) { c.Dedup.Backend = "redis" }, "unknown dedup backend"},
		{"bounded retry needs attempts", func(c *Config) {
			c.Dedup.SkipPolicy = SkipBoundedRetry
			c.Dedup.MaxAttempts = 0
		}, "max_attempts"},
		{"unknown policy", func(c *Config) { c.Dedup.SkipPolicy = "yolo" }, "unknown skip policy"},
		{"bad role", func(c *Config) { c.Generation.Backends[0].Role = "audio" }, "unknown role"},
		{"bad provider", func(c *Config) { c.Generation.Backends[0].Provider = "openai" }, "unknown provider"},
		{"email incomplete", func(c *Config) { c.Email.Enabled = true }, "smtp_host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"NEYNAR_API_KEY":     "nk",
		"NEYNAR_SIGNER_UUID": "su",
		"MENTIONBOT_FID":     "99",
		"ANTHROPIC_API_KEY":  "ak",
		"GEMINI_API_KEY":     "gk",
		"DATABASE_URL":       "   ",
	}
	cfg := Default()
	cfg.Generation.Backends[1].APIKey = "explicit"
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "nk", cfg.Neynar.APIKey)
	assert.Equal(t, "su", cfg.Account.SignerUUID)
	assert.Equal(t, "99", cfg.Account.FID)
	assert.Empty(t, cfg.Dedup.DatabaseURL)
	assert.Equal(t, "ak", cfg.Generation.Backends[0].APIKey)
	assert.Equal(t, "explicit", cfg.Generation.Backends[1].APIKey)
	assert.Equal(t, "gk", cfg.Generation.Backends[2].APIKey)
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[account]
fid = "42"

[polling]
interval_seconds = 15
`), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "42", cfg.Account.FID)
	assert.Equal(t, 15*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.CallTimeout())
	assert.Len(t, cfg.Generation.Backends, 3)
}

func TestLoadFrom_BackendsReplaceDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[generation.backends]]
name = "only"
role = "primary_text"
provider = "gemini"
model = "gemini-2.5-pro"
`), 0600))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)
	require.Len(t, cfg.Generation.Backends, 1)
	assert.Equal(t, BackendConfig{Name: "only", Role: RolePrimaryText, Provider: ProviderGemini, Model: "gemini-2.5-pro"}, cfg.Generation.Backends[0])
	assert.Equal(t, DefaultSystemPrompt, cfg.Generation.SystemPrompt)
}

func TestSaveToRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := validConfig()
	cfg.Polling.Schedule = "@every 10m"
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadFrom_Missing(t *testing.T) {
	_, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDedupPath(t *testing.T) {
	cfg := Default()
	cfg.Dedup.Path = "/tmp/x.db"
	p, err := cfg.DedupPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", p)
}
