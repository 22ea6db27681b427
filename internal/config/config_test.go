package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()
	t.Setenv("CELLFILL_DEFAULT_CONFIG", filepath.Join(tempDir, "missing-default.yaml"))
	t.Setenv("CELLFILL_GLOBAL_CONFIG", filepath.Join(tempDir, "missing-global.yaml"))
	t.Setenv("CELLFILL_CONFIG_DIR", tempDir)
	t.Cleanup(func() { currentConfig = nil })
	return tempDir
}

func TestLoadConfigMergeAndOverrides(t *testing.T) {
	tempDir := isolate(t)
	defaultPath := filepath.Join(tempDir, "default.yaml")
	globalPath := filepath.Join(tempDir, "global.yaml")
	projectDir := filepath.Join(tempDir, "project")
	projectPath := filepath.Join(projectDir, ".cellfill.yaml")

	require.NoError(t, os.MkdirAll(projectDir, 0o755))

	writeFile(t, defaultPath, "llm:\n  timeout_seconds: 120\nworkbook:\n  file: default.xlsx\nlogging:\n  level: info\n")
	writeFile(t, globalPath, "llm:\n  timeout_seconds: 90\nlogging:\n  level: warn\n")
	writeFile(t, projectPath, "llm:\n  timeout_seconds: 60\n")

	t.Setenv("CELLFILL_DEFAULT_CONFIG", defaultPath)
	t.Setenv("CELLFILL_GLOBAL_CONFIG", globalPath)

	paths, err := LoadConfig(projectDir)
	require.NoError(t, err)
	assert.Equal(t, projectPath, paths.Project)

	value, ok := GetConfig(KeyLLMTimeout)
	assert.True(t, ok)
	assert.Equal(t, "60", value)

	value, _ = GetConfig(KeyWorkbookFile)
	assert.Equal(t, "default.xlsx", value)

	value, _ = GetConfig(KeyLogLevel)
	assert.Equal(t, "warn", value)

	value, ok = GetConfig(KeyWorkbookSheet)
	assert.True(t, ok, "built-in defaults are always set")
	assert.Equal(t, "AI Prompts Comparison", value)

	t.Setenv("CELLFILL_LLM_TIMEOUT_SECONDS", "77")
	value, _ = GetConfig(KeyLLMTimeout)
	assert.Equal(t, "77", value)

	t.Setenv("CELLFILL_API_TIMEOUT", "99")
	value, _ = GetConfig(KeyLLMTimeout)
	assert.Equal(t, "99", value)
	assert.Equal(t, 99*time.Second, Current().LLMTimeout)
}

func TestCurrentUsesDefaults(t *testing.T) {
	tempDir := isolate(t)
	_, err := LoadConfig(tempDir)
	require.NoError(t, err)

	settings := Current()
	assert.Equal(t, ".config", settings.BackendsFile)
	assert.Equal(t, "prompts.xlsx", settings.WorkbookFile)
	assert.Equal(t, "hei", settings.WorkbookFont)
	assert.Equal(t, "systemprompt.txt", settings.SystemPromptFile)
	assert.Equal(t, 180*time.Second, settings.LLMTimeout)
	assert.False(t, settings.LLMParallel)
	assert.Equal(t, 7, settings.LogRetainDays)
	assert.Equal(t, 30*time.Second, settings.NotifyTimeout)
	assert.Empty(t, settings.NotifyWebhook)
}

func TestCurrentIgnoresInvalidNumbers(t *testing.T) {
	tempDir := isolate(t)
	writeFile(t, filepath.Join(tempDir, ".cellfill.yaml"), "llm:\n  timeout_seconds: soon\n  parallel: true\n")

	_, err := LoadConfig(tempDir)
	require.NoError(t, err)

	settings := Current()
	assert.Equal(t, 180*time.Second, settings.LLMTimeout)
	assert.True(t, settings.LLMParallel)
}

func TestGetConfigBeforeLoad(t *testing.T) {
	isolate(t)
	currentConfig = nil

	value, ok := GetConfig(KeyBackendsFile)
	assert.True(t, ok)
	assert.Equal(t, ".config", value)

	t.Setenv("CELLFILL_BACKENDS_FILE", "custom.ini")
	value, _ = GetConfig(KeyBackendsFile)
	assert.Equal(t, "custom.ini", value)

	_, ok = GetConfig("unknown.key")
	assert.False(t, ok)
}

func TestSetConfigWritesGlobal(t *testing.T) {
	tempDir := isolate(t)
	globalPath := filepath.Join(tempDir, "config.yaml")
	t.Setenv("CELLFILL_GLOBAL_CONFIG", globalPath)

	require.NoError(t, SetConfig(KeyWorkbookFile, "answers.xlsx"))

	v := viper.New()
	v.SetConfigFile(globalPath)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadInConfig())
	assert.Equal(t, "answers.xlsx", v.GetString(KeyWorkbookFile))
}

func TestListConfigIncludesDefaults(t *testing.T) {
	tempDir := isolate(t)
	_, err := LoadConfig(tempDir)
	require.NoError(t, err)

	settings, err := ListConfig()
	require.NoError(t, err)
	assert.Equal(t, "prompts.xlsx", settings[KeyWorkbookFile])
	assert.Equal(t, "180", settings[KeyLLMTimeout])
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
