package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr       string
	LogLevel       string
	RequestTimeout time.Duration
	Telegram       TelegramConfig
	Model          ModelConfig
	Memory         MemoryConfig
}

type TelegramConfig struct {
	Token         string
	APIBaseURL    string
	WebhookSecret string
}

type ModelConfig struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	SystemPrompt  string
	MaxTokens     int
	Timeout       time.Duration
	MaxAttempts   int
	MaxConcurrent int
	// PullTimeout bounds the startup download of a missing Ollama model.
	PullTimeout time.Duration
}

type MemoryConfig struct {
	MaxHistory    int
	UpdatesExpiry time.Duration
	SweepInterval time.Duration
	// IdleTTL of zero keeps conversations until cleared.
	IdleTTL time.Duration
}

const defaultSystemPrompt = "You are a helpful assistant."

// apiKeyEnv maps a provider to the environment variable holding its key.
var apiKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"deepseek":   "DEEPSEEK_API_KEY",
	"grok":       "GROK_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func defaults() Config {
	return Config{
		HTTPAddr:       ":8080",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
		Telegram: TelegramConfig{
			APIBaseURL: "https://api.telegram.org",
		},
		Model: ModelConfig{
			Provider:      "openai",
			SystemPrompt:  defaultSystemPrompt,
			Timeout:       60 * time.Second,
			MaxAttempts:   3,
			MaxConcurrent: 16,
			PullTimeout:   30 * time.Minute,
		},
		Memory: MemoryConfig{
			MaxHistory:    22,
			UpdatesExpiry: 3600 * time.Second,
			SweepInterval: time.Minute,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path, ok := os.LookupEnv("CONFIG_FILE"); ok && path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.Model.APIKey == "" {
		if env, ok := apiKeyEnv[strings.ToLower(cfg.Model.Provider)]; ok {
			cfg.Model.APIKey = getEnv(env, "")
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing or out-of-range setting.
func (c Config) Validate() error {
	switch {
	case c.Telegram.Token == "":
		return errors.New("TELEGRAM_TOKEN is required")
	case c.Model.Provider == "":
		return errors.New("MODEL_PROVIDER is required")
	case c.Memory.MaxHistory <= 0:
		return fmt.Errorf("MAX_CONVERSATION_HISTORY must be positive, got %d", c.Memory.MaxHistory)
	case c.Memory.UpdatesExpiry <= 0:
		return fmt.Errorf("PROCESSED_UPDATES_EXPIRY must be positive, got %s", c.Memory.UpdatesExpiry)
	case c.Memory.SweepInterval <= 0:
		return fmt.Errorf("DEDUP_SWEEP_INTERVAL must be positive, got %s", c.Memory.SweepInterval)
	case c.Memory.IdleTTL < 0:
		return fmt.Errorf("CONVERSATION_IDLE_TTL must not be negative, got %s", c.Memory.IdleTTL)
	case c.Model.Timeout <= 0:
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive, got %s", c.Model.Timeout)
	case c.Model.MaxAttempts <= 0:
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be positive, got %d", c.Model.MaxAttempts)
	case c.Model.MaxConcurrent < 0:
		return fmt.Errorf("MAX_CONCURRENT_GENERATIONS must not be negative, got %d", c.Model.MaxConcurrent)
	case c.Model.PullTimeout <= 0:
		return fmt.Errorf("OLLAMA_PULL_TIMEOUT must be positive, got %s", c.Model.PullTimeout)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	setString(&cfg.Telegram.APIBaseURL, "TELEGRAM_API_BASE_URL")
	setString(&cfg.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	setString(&cfg.Model.Provider, "MODEL_PROVIDER")
	setString(&cfg.Model.Model, "MODEL_NAME")
	setString(&cfg.Model.BaseURL, "MODEL_BASE_URL")
	setString(&cfg.Model.APIKey, "MODEL_API_KEY")
	setString(&cfg.Model.SystemPrompt, "SYSTEM_PROMPT")
	if cfg.Model.BaseURL == "" && strings.EqualFold(cfg.Model.Provider, "ollama") {
		setString(&cfg.Model.BaseURL, "OLLAMA_BASE_URL")
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"HTTP_CLIENT_TIMEOUT", &cfg.RequestTimeout},
		{"GATEWAY_TIMEOUT", &cfg.Model.Timeout},
		{"OLLAMA_PULL_TIMEOUT", &cfg.Model.PullTimeout},
		{"DEDUP_SWEEP_INTERVAL", &cfg.Memory.SweepInterval},
		{"CONVERSATION_IDLE_TTL", &cfg.Memory.IdleTTL},
	}
	for _, d := range durations {
		if val, ok := os.LookupEnv(d.key); ok {
			parsed, err := parseDuration(val)
			if err != nil {
				return fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	if val, ok := os.LookupEnv("PROCESSED_UPDATES_EXPIRY"); ok {
		parsed, err := parseSeconds(val)
		if err != nil {
			return fmt.Errorf("parse PROCESSED_UPDATES_EXPIRY: %w", err)
		}
		cfg.Memory.UpdatesExpiry = parsed
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_CONVERSATION_HISTORY", &cfg.Memory.MaxHistory},
		{"MODEL_MAX_TOKENS", &cfg.Model.MaxTokens},
		{"GATEWAY_MAX_ATTEMPTS", &cfg.Model.MaxAttempts},
		{"MAX_CONCURRENT_GENERATIONS", &cfg.Model.MaxConcurrent},
	}
	for _, i := range ints {
		if val, ok := os.LookupEnv(i.key); ok {
			parsed, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return fmt.Errorf("parse %s: %w", i.key, err)
			}
			*i.dst = parsed
		}
	}
	return nil
}

// fileConfig mirrors Config for YAML. Durations stay raw strings so both
// "90s" and plain seconds are accepted.
type fileConfig struct {
	HTTPAddr       string `yaml:"http_addr"`
	LogLevel       string `yaml:"log_level"`
	RequestTimeout string `yaml:"http_client_timeout"`
	Telegram       struct {
		Token         string `yaml:"token"`
		APIBaseURL    string `yaml:"api_base_url"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"telegram"`
	Model struct {
		Provider      string `yaml:"provider"`
		Name          string `yaml:"name"`
		BaseURL       string `yaml:"base_url"`
		APIKey        string `yaml:"api_key"`
		SystemPrompt  string `yaml:"system_prompt"`
		MaxTokens     int    `yaml:"max_tokens"`
		Timeout       string `yaml:"timeout"`
		MaxAttempts   int    `yaml:"max_attempts"`
		MaxConcurrent int    `yaml:"max_concurrent"`
		PullTimeout   string `yaml:"pull_timeout"`
	} `yaml:"model"`
	Memory struct {
		MaxHistory             int    `yaml:"max_history"`
		ProcessedUpdatesExpiry string `yaml:"processed_updates_expiry"`
		SweepInterval          string `yaml:"sweep_interval"`
		IdleTTL                string `yaml:"idle_ttl"`
	} `yaml:"memory"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the variable's value, or "" when unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	overlay(&cfg.HTTPAddr, fc.HTTPAddr)
	overlay(&cfg.LogLevel, fc.LogLevel)
	overlay(&cfg.Telegram.Token, fc.Telegram.Token)
	overlay(&cfg.Telegram.APIBaseURL, fc.Telegram.APIBaseURL)
	overlay(&cfg.Telegram.WebhookSecret, fc.Telegram.WebhookSecret)
	overlay(&cfg.Model.Provider, fc.Model.Provider)
	overlay(&cfg.Model.Model, fc.Model.Name)
	overlay(&cfg.Model.BaseURL, fc.Model.BaseURL)
	overlay(&cfg.Model.APIKey, fc.Model.APIKey)
	overlay(&cfg.Model.SystemPrompt, strings.TrimSpace(fc.Model.SystemPrompt))
	overlayInt(&cfg.Model.MaxTokens, fc.Model.MaxTokens)
	overlayInt(&cfg.Model.MaxAttempts, fc.Model.MaxAttempts)
	overlayInt(&cfg.Model.MaxConcurrent, fc.Model.MaxConcurrent)
	overlayInt(&cfg.Memory.MaxHistory, fc.Memory.MaxHistory)

	durations := []struct {
		name  string
		raw   string
		dst   *time.Duration
		parse func(string) (time.Duration, error)
	}{
		{"http_client_timeout", fc.RequestTimeout, &cfg.RequestTimeout, parseDuration},
		{"model.timeout", fc.Model.Timeout, &cfg.Model.Timeout, parseDuration},
		{"model.pull_timeout", fc.Model.PullTimeout, &cfg.Model.PullTimeout, parseDuration},
		{"memory.processed_updates_expiry", fc.Memory.ProcessedUpdatesExpiry, &cfg.Memory.UpdatesExpiry, parseSeconds},
		{"memory.sweep_interval", fc.Memory.SweepInterval, &cfg.Memory.SweepInterval, parseDuration},
		{"memory.idle_ttl", fc.Memory.IdleTTL, &cfg.Memory.IdleTTL, parseDuration},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := d.parse(d.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("duration is empty")
	}
	return time.ParseDuration(value)
}

// parseSeconds accepts a bare number of seconds or a Go duration string.
func parseSeconds(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return parseDuration(value)
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func overlay(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

func overlayInt(dst *int, val int) {
	if val != 0 {
		*dst = val
	}
}
