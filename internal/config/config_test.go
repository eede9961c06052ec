package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the global config lookup at an empty directory so tests
// never pick up the developer's real config.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("CONVOY_CONFIG", "")
	t.Setenv("CONVOY_CONFIG_CONTENT", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Steering.MaxEntries)
	assert.Equal(t, 150, cfg.Refresh.CoalesceDelayMs)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoad_ProjectConfig(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	content := `{
		// project overrides
		"server": { "port": 9191 },
		"steering": { "maxEntries": 3 }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "convoy.jsonc"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Steering.MaxEntries)
	// Untouched fields keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Hostname)
}

func TestLoad_GlobalThenProjectPrecedence(t *testing.T) {
	isolate(t)
	globalDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", globalDir)
	require.NoError(t, os.MkdirAll(filepath.Join(globalDir, "convoy"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(globalDir, "convoy", "convoy.json"),
		[]byte(`{"server": {"port": 7000}, "logLevel": "DEBUG"}`), 0644))

	projectDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(projectDir, "convoy.json"),
		[]byte(`{"server": {"port": 7100}}`), 0644))

	cfg, err := Load(projectDir)
	require.NoError(t, err)

	// Project wins where it speaks; global survives where it doesn't.
	assert.Equal(t, 7100, cfg.Server.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoad_InlineConfigContent(t *testing.T) {
	isolate(t)
	t.Setenv("CONVOY_CONFIG_CONTENT", `{"tasks": {"recentlyCompleted": 25}}`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Tasks.RecentlyCompleted)
}

func TestLoad_EnvOverridesWin(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "convoy.json"),
		[]byte(`{"server": {"port": 7100}, "dataDir": "/from/file"}`), 0644))

	t.Setenv("CONVOY_PORT", "7200")
	t.Setenv("CONVOY_DATA_DIR", "/from/env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7200, cfg.Server.Port)
	assert.Equal(t, "/from/env", cfg.DataDir)
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".env"),
		[]byte("CONVOY_LOG_LEVEL=WARN\n"), 0644))

	// godotenv does not override already-set variables.
	os.Unsetenv("CONVOY_LOG_LEVEL")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestLoad_InvalidPortIgnored(t *testing.T) {
	isolate(t)
	t.Setenv("CONVOY_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}
