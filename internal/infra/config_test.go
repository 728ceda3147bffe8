package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config.yaml to pick up

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 5, cfg.Agent.MaxIterations)
	assert.Equal(t, 10*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Empty(t, cfg.Database.URL)
	assert.Nil(t, cfg.Auth.PublicKey)
	assert.Equal(t, "https://api.tavily.com/search", cfg.Search.URL)
	assert.Equal(t, "TAVILY_API_KEY", cfg.Search.APIKeyEnv)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
agent:
  disabled_skills: [shell_exec]
llm:
  reasoning_model: deepseek-r1
  reasoning_keywords: [prove, derive]
`), 0o644))

	t.Setenv(EnvPrefix+"_REDIS_ADDR", "redis:6380")
	t.Setenv(EnvPrefix+"_AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"shell_exec"}, cfg.Agent.DisabledSkills)
	assert.Equal(t, "deepseek-r1", cfg.LLM.ReasoningModel)
	assert.Equal(t, []string{"prove", "derive"}, cfg.LLM.ReasoningKeywords)
	assert.Equal(t, []byte("-----BEGIN PUBLIC KEY-----"), cfg.Auth.PublicKey)
}

func TestLoadConfigExplicitMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestSearchKey(t *testing.T) {
	c := SearchConfig{APIKeyEnv: "AGENTCORE_TEST_SEARCH_KEY", APIKey: "from-file"}

	key, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, "from-file", key)

	t.Setenv("AGENTCORE_TEST_SEARCH_KEY", "rotated")
	key, err = c.Key()
	require.NoError(t, err)
	assert.Equal(t, "rotated", key)

	_, err = SearchConfig{APIKeyEnv: "AGENTCORE_TEST_SEARCH_KEY_UNSET"}.Key()
	assert.ErrorContains(t, err, "AGENTCORE_TEST_SEARCH_KEY_UNSET")
}
