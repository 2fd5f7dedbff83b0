package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointConfigAway keeps the test from reading a sage.toml in the working
// directory.
func pointConfigAway(t *testing.T) {
	t.Helper()
	t.Setenv("SAGE_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.toml"))
}

// TestLoadConfig_Defaults verifies the built-in defaults load without any
// file or environment.
func TestLoadConfig_Defaults(t *testing.T) {
	pointConfigAway(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 4000, cfg.Search.TokenBudget)
	assert.Equal(t, 2, cfg.Followup.RemindAfterDays)
	assert.Equal(t, 7, cfg.Followup.EscalateAfterDays)
	assert.Equal(t, "./data/spool", cfg.Notify.SpoolPath)
}

// TestLoadConfig_EnvOverrides verifies SAGE_* variables win over defaults.
func TestLoadConfig_EnvOverrides(t *testing.T) {
	pointConfigAway(t)
	t.Setenv("SAGE_DATA_PATH", "/tmp/sage-test")
	t.Setenv("SAGE_TOKEN_BUDGET", "1234")
	t.Setenv("SAGE_FOLLOWUP_HOLIDAYS", "2026-12-25, 2026-01-01")
	t.Setenv("SAGE_USER_NAME", "Dana")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sage-test", cfg.Storage.DataPath)
	assert.Equal(t, 1234, cfg.Search.TokenBudget)
	assert.Equal(t, []string{"2026-12-25", "2026-01-01"}, cfg.Followup.Holidays)
	assert.Equal(t, "Dana", cfg.User.Name)
	assert.Equal(t, "/tmp/sage-test/spool", cfg.Notify.SpoolPath)
}

// TestLoadConfig_FileThenEnv verifies the layering: file over defaults,
// env over file.
func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sage.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[search]
token_budget = 2000
semantic_limit = 7

[user]
name = "FromFile"
`), 0o600))

	t.Setenv("SAGE_CONFIG_FILE", path)
	t.Setenv("SAGE_USER_NAME", "FromEnv")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2000, cfg.Search.TokenBudget)
	assert.Equal(t, 7, cfg.Search.SemanticLimit)
	assert.Equal(t, "FromEnv", cfg.User.Name)
}

// TestValidate covers the rejection paths.
func TestValidate(t *testing.T) {
	base := defaultConfig

	cfg := base()
	cfg.Storage.Engine = "mysql"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Storage.Engine = "postgres"
	cfg.Storage.PostgresURL = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LLM.Provider = "openai"
	cfg.LLM.OpenAIAPIKey = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Followup.RemindAfterDays = 7
	cfg.Followup.EscalateAfterDays = 2
	assert.Error(t, cfg.Validate())

	assert.NoError(t, base().Validate())
}
