package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "mentionbot"

// Supported LLM providers
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Backend roles in the generation fallback chain
const (
	RoleVision        = "vision"
	RolePrimaryText   = "primary_text"
	RoleSecondaryText = "secondary_text"
)

// Dedup backends
const (
	DedupSQLite   = "sqlite"
	DedupPostgres = "postgres"
	DedupFile     = "file"
)

// Skip policies
const (
	SkipConservative = "conservative"
	SkipBoundedRetry = "bounded_retry"
)

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Account    AccountConfig    `toml:"account"`
	Neynar     NeynarConfig     `toml:"neynar"`
	Generation GenerationConfig `toml:"generation"`
	Polling    PollingConfig    `toml:"polling"`
	Dedup      DedupConfig      `toml:"dedup"`
	Server     ServerConfig     `toml:"server"`
	Email      EmailConfig      `toml:"email"`
	Logging    LoggingConfig    `toml:"logging"`
}

// AccountConfig identifies the monitored account.
type AccountConfig struct {
	FID        string `toml:"fid"`
	Username   string `toml:"username"`
	SignerUUID string `toml:"signer_uuid"`
}

type NeynarConfig struct {
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	NotificationTypes []string `toml:"notification_types"`
	ReplyDepth        int      `toml:"reply_depth"`
	Limit             int      `toml:"limit"`
}

type GenerationConfig struct {
	SystemPrompt              string          `toml:"system_prompt"`
	MaxReplyLength            int             `toml:"max_reply_length"`
	FallbackReply             string          `toml:"fallback_reply"`
	HistoryTurns              int             `toml:"history_turns"`
	HistoryThreads            int             `toml:"history_threads"`
	MaxTokens                 int             `toml:"max_tokens"`
	Backends                  []BackendConfig `toml:"backends"`
	MinPublishIntervalSeconds int             `toml:"min_publish_interval_seconds"`
	SaveExchanges             bool            `toml:"save_exchanges"` // write every LLM call to DataDir/llm
}

// BackendConfig is one entry in the generation fallback chain. Order in the
// file is the order of attempts.
type BackendConfig struct {
	Name     string `toml:"name"`
	Role     string `toml:"role"`
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
}

type PollingConfig struct {
	IntervalSeconds    int    `toml:"interval_seconds"`
	Schedule           string `toml:"schedule"`
	Timezone           string `toml:"timezone"`
	CallTimeoutSeconds int    `toml:"call_timeout_seconds"`
	LeaseTTLSeconds    int    `toml:"lease_ttl_seconds"`
}

type DedupConfig struct {
	Backend       string `toml:"backend"`
	Path          string `toml:"path"`
	DatabaseURL   string `toml:"database_url"`
	RetentionDays int    `toml:"retention_days"`
	SkipPolicy    string `toml:"skip_policy"`
	MaxAttempts   int    `toml:"max_attempts"`
}

type ServerConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	TriggerToken string `toml:"trigger_token"`
}

type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	Provider string `toml:"provider"`
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultSystemPrompt is used when no prompt is configured.
const DefaultSystemPrompt = `You are a friendly, concise account replying to people who mention you on Farcaster.
Reply directly to what they said. Keep it short, warm and specific. No hashtags, no quotes around the reply.`

// DefaultFallbackReply is posted when every generation backend fails.
const DefaultFallbackReply = "Thanks for the mention! I'll take a proper look soon."

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Neynar: NeynarConfig{
			BaseURL:           "https://api.neynar.com",
			NotificationTypes: []string{"mentions", "replies"},
			ReplyDepth:        2,
			Limit:             25,
		},
		Generation: GenerationConfig{
			SystemPrompt:   DefaultSystemPrompt,
			MaxReplyLength: 320,
			FallbackReply:  DefaultFallbackReply,
			HistoryTurns:   6,
			HistoryThreads: 256,
			MaxTokens:      300,
			Backends: []BackendConfig{
				{Name: "claude-vision", Role: RoleVision, Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
				{Name: "claude", Role: RolePrimaryText, Provider: ProviderAnthropic, Model: "claude-3-5-haiku-latest"},
				{Name: "gemini", Role: RoleSecondaryText, Provider: ProviderGemini, Model: "gemini-2.5-flash"},
			},
		},
		Polling: PollingConfig{
			IntervalSeconds:    60,
			Schedule:           "*/5 * * * *",
			Timezone:           "UTC",
			CallTimeoutSeconds: 30,
			LeaseTTLSeconds:    180,
		},
		Dedup: DedupConfig{
			Backend:       DedupSQLite,
			RetentionDays: 7,
			SkipPolicy:    SkipConservative,
			MaxAttempts:   3,
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8787",
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// CallTimeout bounds every external call made during a cycle.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Polling.CallTimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.Polling.LeaseTTLSeconds) * time.Second
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Dedup.RetentionDays) * 24 * time.Hour
}

func (c *Config) MinPublishInterval() time.Duration {
	return time.Duration(c.Generation.MinPublishIntervalSeconds) * time.Second
}

// Validate reports configuration that would prevent a check cycle from running.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Account.FID) == "" {
		errs = append(errs, errors.New("account.fid is required"))
	}
	if strings.TrimSpace(c.Account.SignerUUID) == "" {
		errs = append(errs, errors.New("account.signer_uuid is required"))
	}
	if strings.TrimSpace(c.Neynar.APIKey) == "" {
		errs = append(errs, errors.New("neynar.api_key is required"))
	}
	if c.Polling.CallTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("polling.call_timeout_seconds must be positive"))
	}
	if c.Generation.MaxReplyLength <= 0 {
		errs = append(errs, errors.New("generation.max_reply_length must be positive"))
	}

	for i, b := range c.Generation.Backends {
		switch b.Role {
		case RoleVision, RolePrimaryText, RoleSecondaryText:
		default:
			errs = append(errs, fmt.Errorf("generation.backends[%d]: unknown role %q", i, b.Role))
		}
		switch b.Provider {
		case ProviderAnthropic, ProviderGemini:
		default:
			errs = append(errs, fmt.Errorf("generation.backends[%d]: unknown provider %q", i, b.Provider))
		}
	}

	switch c.Dedup.Backend {
	case DedupSQLite, DedupFile:
	case DedupPostgres:
		if c.Dedup.DatabaseURL == "" {
			errs = append(errs, errors.New("dedup.database_url is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend))
	}
	if c.Dedup.RetentionDays <= 0 {
		errs = append(errs, errors.New("dedup.retention_days must be positive"))
	}

	switch c.Dedup.SkipPolicy {
	case SkipConservative:
	case SkipBoundedRetry:
		if c.Dedup.MaxAttempts <= 0 {
			errs = append(errs, errors.New("dedup.max_attempts must be positive for bounded_retry"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown skip policy %q", c.Dedup.SkipPolicy))
	}

	if c.Email.Enabled && (c.Email.SMTPHost == "" || c.Email.ToAddr == "") {
		errs = append(errs, errors.New("email.smtp_host and email.to_address are required when email is enabled"))
	}

	return errors.Join(errs...)
}

// ApplyEnv overrides secrets from the environment. lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	set(&c.Neynar.APIKey, "NEYNAR_API_KEY")
	set(&c.Account.SignerUUID, "NEYNAR_SIGNER_UUID")
	set(&c.Account.FID, "MENTIONBOT_FID")
	set(&c.Dedup.DatabaseURL, "DATABASE_URL")
	set(&c.Server.TriggerToken, "MENTIONBOT_TRIGGER_TOKEN")

	var anthropicKey, geminiKey string
	set(&anthropicKey, "ANTHROPIC_API_KEY")
	set(&geminiKey, "GEMINI_API_KEY")
	for i := range c.Generation.Backends {
		b := &c.Generation.Backends[i]
		if b.APIKey != "" {
			continue
		}
		switch b.Provider {
		case ProviderAnthropic:
			b.APIKey = anthropicKey
		case ProviderGemini:
			b.APIKey = geminiKey
		}
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DataDir returns the directory holding the dedup database.
func DataDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// DedupPath resolves the dedup store location, defaulting into DataDir.
func (c *Config) DedupPath() (string, error) {
	if c.Dedup.Path != "" {
		return c.Dedup.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	if c.Dedup.Backend == DedupFile {
		return filepath.Join(dir, "handled.jsonl"), nil
	}
	return filepath.Join(dir, "handled.db"), nil
}

// Load reads config from the default location
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads config from path. Missing keys keep their defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	// An explicit backend list replaces the defaults instead of merging into them.
	if md.IsDefined("generation", "backends") {
		var explicit struct {
			Generation struct {
				Backends []BackendConfig `toml:"backends"`
			} `toml:"generation"`
		}
		if _, err := toml.DecodeFile(path, &explicit); err != nil {
			return nil, err
		}
		cfg.Generation.Backends = explicit.Generation.Backends
	}
	return cfg, nil
}

// Save writes config to the default location
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
