package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/liqian5129/reading-comp/pkg/configutil"
)

type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	RedactPII   bool   `mapstructure:"redact_pii"`

	Book    BookConfig    `mapstructure:"book"`
	Scanner ScannerConfig `mapstructure:"scanner"`
	AI      AIConfig      `mapstructure:"ai"`
	Voice   VendorConfig  `mapstructure:"voice"`
	Speech  VendorConfig  `mapstructure:"speech"`
	Tools   ToolsConfig   `mapstructure:"tools"`
	Store   StoreConfig   `mapstructure:"store"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Session SessionConfig `mapstructure:"session"`
}

type BookConfig struct {
	Name string `mapstructure:"name"`
}

type ScannerConfig struct {
	IntervalMS          int     `mapstructure:"interval_ms"`
	TimeoutMS           int     `mapstructure:"timeout_ms"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	PagesDir            string  `mapstructure:"pages_dir"`
}

func (c ScannerConfig) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }
func (c ScannerConfig) Timeout() time.Duration  { return time.Duration(c.TimeoutMS) * time.Millisecond }

// VendorConfig selects a provider implementation plus its free-form
// settings map, decoded per provider with configutil.DecodeSettings.
type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type AIConfig struct {
	Provider       string         `mapstructure:"provider"`
	Settings       map[string]any `mapstructure:"settings"`
	TimeoutMS      int            `mapstructure:"timeout_ms"`
	Retries        int            `mapstructure:"retries"`
	RetryBackoffMS int            `mapstructure:"retry_backoff_ms"`
	SystemPrompt   string         `mapstructure:"system_prompt"`
}

func (c AIConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

func (c AIConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMS) * time.Millisecond
}

type ToolsConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	Depth     int `mapstructure:"depth"`
}

func (c ToolsConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMS) * time.Millisecond }

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type BridgeConfig struct {
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Downlink DownlinkConfig `mapstructure:"downlink"`
}

type WebhookConfig struct {
	URL       string `mapstructure:"url"`
	Retries   int    `mapstructure:"retries"`
	BackoffMS int    `mapstructure:"backoff_ms"`
}

type SMSConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
}

type DownlinkConfig struct {
	URL string `mapstructure:"url"`
}

type SessionConfig struct {
	BarrierTimeoutMS int `mapstructure:"barrier_timeout_ms"`
}

func (c SessionConfig) BarrierTimeout() time.Duration {
	return time.Duration(c.BarrierTimeoutMS) * time.Millisecond
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("scanner.interval_ms", 2000)
	v.SetDefault("scanner.timeout_ms", 5000)
	v.SetDefault("scanner.similarity_threshold", 0.95)
	v.SetDefault("ai.timeout_ms", 30000)
	v.SetDefault("ai.retries", 2)
	v.SetDefault("ai.retry_backoff_ms", 500)
	v.SetDefault("voice.provider", "mock")
	v.SetDefault("speech.provider", "mock")
	v.SetDefault("tools.timeout_ms", 6000)
	v.SetDefault("tools.depth", 4)
	v.SetDefault("store.path", "reading.db")
	v.SetDefault("bridge.webhook.retries", 2)
	v.SetDefault("bridge.webhook.backoff_ms", 200)
	v.SetDefault("session.barrier_timeout_ms", 10000)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.AI.Provider, "ai.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Voice.Provider, "voice.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Speech.Provider, "speech.provider"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Store.Path, "store.path"); err != nil {
		return err
	}
	if c.Scanner.SimilarityThreshold <= 0 || c.Scanner.SimilarityThreshold > 1 {
		return fmt.Errorf("scanner.similarity_threshold must be in (0, 1]")
	}
	if c.Tools.Depth <= 0 {
		return fmt.Errorf("tools.depth must be positive")
	}
	return nil
}

// expandEnvStrings resolves ${VAR} references so secrets stay out of
// config files.
func expandEnvStrings(cfg *Config) {
	cfg.AI.Settings = expandSettings(cfg.AI.Settings)
	cfg.Voice.Settings = expandSettings(cfg.Voice.Settings)
	cfg.Speech.Settings = expandSettings(cfg.Speech.Settings)
	cfg.Bridge.Webhook.URL = os.ExpandEnv(cfg.Bridge.Webhook.URL)
	cfg.Bridge.Downlink.URL = os.ExpandEnv(cfg.Bridge.Downlink.URL)
	cfg.Bridge.SMS.AccountSID = os.ExpandEnv(cfg.Bridge.SMS.AccountSID)
	cfg.Bridge.SMS.AuthToken = os.ExpandEnv(cfg.Bridge.SMS.AuthToken)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		return expandSettings(val)
	default:
		return v
	}
}
