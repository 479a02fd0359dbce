package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quickreview.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigLayers(t *testing.T) {
	path := writeConfig(t, `
[gitlab]
url = "https://git.example.com"
token = "from-file"

[assistant]
provider = "openai"
timeout = "90s"

[retry.fetch]
max_attempts = 5
base_delay = "250ms"
`)
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("QUICKREVIEW_GITLAB_TOKEN", "from-env")
	t.Setenv("QUICKREVIEW_RETRY__PUBLISH__MAX_ATTEMPTS", "4")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://git.example.com", cfg.GitLab.URL)
	assert.Equal(t, "from-env", cfg.GitLab.Token, "environment overrides the file")
	assert.Equal(t, "gh-token", cfg.GitHub.Token)
	assert.Equal(t, "openai", cfg.Assistant.Provider)
	assert.Equal(t, 90*time.Second, cfg.Assistant.Timeout)
	assert.Equal(t, 5, cfg.Retry.Fetch.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.Fetch.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.Fetch.MaxDelay, "defaults survive partial sections")
	assert.Equal(t, 4, cfg.Retry.Publish.MaxAttempts)
	assert.Equal(t, 2, cfg.Retry.AnalyzeAttempts)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "gitlab.token", envKey("QUICKREVIEW_GITLAB_TOKEN"))
	assert.Equal(t, "gitlab.requests_per_second", envKey("QUICKREVIEW_GITLAB_REQUESTS_PER_SECOND"))
	assert.Equal(t, "retry.fetch.max_attempts", envKey("QUICKREVIEW_RETRY__FETCH__MAX_ATTEMPTS"))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quickreview.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "langchain", cfg.Assistant.Driver)
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, `
[assistant]
api_key = "k"
`)
	t.Setenv("GITHUB_TOKEN", "gh-token")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	cfg.Assistant.Driver = "command"
	cfg.Assistant.Command = nil
	cfg.Retry.AnalyzeAttempts = 3
	cfg.Store.Driver = "mongo"
	err = Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assistant command is required")
	assert.Contains(t, err.Error(), "analyze_attempts must be 1 or 2")
	assert.Contains(t, err.Error(), `unsupported store driver "mongo"`)
}
