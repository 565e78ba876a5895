package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadJSONAppliesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"basic_config": {"server_address": ":9999"},
		"storage": {"driver": "sqlite3"},
		"databases": {"sqlite3": {"dsn": "data/helixar.db"}}
	}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, filepath.Join(dir, "data/helixar.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "gemini", cfg.Completion.Provider)
	assert.Equal(t, DefaultSystemInstruction, cfg.Completion.SystemInstruction)
	assert.Equal(t, 5, cfg.Completion.SearchPerMinute)
	assert.Equal(t, "from-env", cfg.Providers["gemini"].APIKey)
	assert.Equal(t, "dark", cfg.Preferences.Theme)
	assert.Equal(t, "#b33a72", cfg.Preferences.Accent)
	assert.Equal(t, 4, cfg.BasicConfig.Workers)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  driver: memory
completion:
  provider: openai
  fast_model: gpt-5-nano
  pro_model: gpt-5
providers:
  openai:
    api_key: sk-test
preferences:
  theme: light
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "gpt-5-nano", cfg.Completion.FastModel)
	assert.Equal(t, "sk-test", cfg.Providers["openai"].APIKey)
	assert.Equal(t, "light", cfg.Preferences.Theme)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"driver": "postgres"}}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage driver")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
