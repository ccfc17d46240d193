package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, 22, cfg.Memory.MaxHistory)
	assert.Equal(t, time.Hour, cfg.Memory.UpdatesExpiry)
	assert.Equal(t, time.Minute, cfg.Memory.SweepInterval)
	assert.Zero(t, cfg.Memory.IdleTTL)
	assert.Equal(t, 3, cfg.Model.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Model.PullTimeout)
	assert.Equal(t, "https://api.telegram.org", cfg.Telegram.APIBaseURL)
}

func TestLoad_RequiresTelegramToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("MODEL_PROVIDER", "deepseek")
	t.Setenv("DEEPSEEK_API_KEY", "ds-key")
	t.Setenv("MAX_CONVERSATION_HISTORY", "10")
	t.Setenv("PROCESSED_UPDATES_EXPIRY", "120")
	t.Setenv("CONVERSATION_IDLE_TTL", "24h")
	t.Setenv("GATEWAY_TIMEOUT", "30s")
	t.Setenv("OLLAMA_PULL_TIMEOUT", "2h")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "deepseek", cfg.Model.Provider)
	assert.Equal(t, "ds-key", cfg.Model.APIKey)
	assert.Equal(t, 10, cfg.Memory.MaxHistory)
	assert.Equal(t, 2*time.Minute, cfg.Memory.UpdatesExpiry)
	assert.Equal(t, 24*time.Hour, cfg.Memory.IdleTTL)
	assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
	assert.Equal(t, 2*time.Hour, cfg.Model.PullTimeout)
}

func TestLoad_InvalidNumbers(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")

	t.Setenv("MAX_CONVERSATION_HISTORY", "many")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("MAX_CONVERSATION_HISTORY", "0")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONVERSATION_HISTORY")
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
telegram:
  token: ${TEST_RELAY_TOKEN}
model:
  provider: ollama
  name: llama3
  system_prompt: |
    You are a terse assistant.
memory:
  max_history: 8
  processed_updates_expiry: 90s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TEST_RELAY_TOKEN", "from-file")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.Telegram.Token)
	assert.Equal(t, "ollama", cfg.Model.Provider)
	assert.Equal(t, "llama3", cfg.Model.Model)
	assert.Equal(t, "You are a terse assistant.", cfg.Model.SystemPrompt)
	assert.Equal(t, "http://ollama:11434", cfg.Model.BaseURL)
	assert.Equal(t, 8, cfg.Memory.MaxHistory)
	assert.Equal(t, 90*time.Second, cfg.Memory.UpdatesExpiry)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("telegram:\n  token: file\nmemory:\n  max_history: 8\n"), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MAX_CONVERSATION_HISTORY", "4")
	t.Setenv("OPENAI_API_KEY", "sk")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Telegram.Token)
	assert.Equal(t, 4, cfg.Memory.MaxHistory)
}

func TestLoad_RejectsZeroPullTimeout(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("OPENAI_API_KEY", "sk")
	t.Setenv("OLLAMA_PULL_TIMEOUT", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OLLAMA_PULL_TIMEOUT")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("TELEGRAM_TOKEN", "x")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestParseSeconds(t *testing.T) {
	d, err := parseSeconds("3600")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = parseSeconds("2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	_, err = parseSeconds("")
	assert.Error(t, err)
}
