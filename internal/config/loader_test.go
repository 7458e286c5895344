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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.yaml", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("should load values from file", func(t *testing.T) {
		path := writeConfig(t, `
provider:
  type: deepseek
  api_key: sk-file-key
models:
  default: deepseek-chat
  synthesis: deepseek-reasoner
  agents: [alpha, beta]
agent:
  max_iterations: 7
  retry_backoff: 250ms
orchestrator:
  parallel_agents: 2
  task_timeout: 90s
  global_deadline: 10m
  budget_limit: 1.5
  question_generation_prompt: "Generate {num_agents} questions for: {user_input}"
pricing:
  gpt-4.1:
    input_per_1m: 2
    output_per_1m: 8
`)

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		assert.Equal(t, "deepseek", cfg.Provider.Type)
		assert.Equal(t, "sk-file-key", cfg.Provider.APIKey)
		assert.Equal(t, "deepseek-chat", cfg.Models.Default)
		assert.Equal(t, "deepseek-reasoner", cfg.Models.Synthesis)
		assert.Equal(t, []string{"alpha", "beta"}, cfg.Models.Agents)
		assert.Equal(t, 7, cfg.Agent.MaxIterations)
		assert.Equal(t, 250*time.Millisecond, cfg.Agent.RetryBackoff)
		assert.Equal(t, 2, cfg.Orchestrator.ParallelAgents)
		assert.Equal(t, 90*time.Second, cfg.Orchestrator.TaskTimeout)
		assert.Equal(t, 10*time.Minute, cfg.Orchestrator.GlobalDeadline)
		assert.Equal(t, 1.5, cfg.Orchestrator.BudgetLimit)
		assert.Equal(t, "Generate {num_agents} questions for: {user_input}", cfg.Orchestrator.QuestionGenerationPrompt)
		require.Contains(t, cfg.Pricing, "gpt-4.1")
		assert.Equal(t, 8.0, cfg.Pricing["gpt-4.1"].OutputPer1M)
	})

	t.Run("should keep defaults for unset keys", func(t *testing.T) {
		path := writeConfig(t, "models:\n  default: m\n")

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		d := DefaultConfig()
		assert.Equal(t, d.Orchestrator.ParallelAgents, cfg.Orchestrator.ParallelAgents)
		assert.Equal(t, d.Orchestrator.TaskTimeout, cfg.Orchestrator.TaskTimeout)
		assert.Equal(t, d.Agent.MaxRetries, cfg.Agent.MaxRetries)
		assert.Equal(t, d.SystemPrompt, cfg.SystemPrompt)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("should apply environment overrides", func(t *testing.T) {
		path := writeConfig(t, "orchestrator:\n  parallel_agents: 2\n")
		t.Setenv("HEAVY_ORCHESTRATOR_PARALLEL_AGENTS", "6")
		t.Setenv("HEAVY_ORCHESTRATOR_TASK_TIMEOUT", "45s")
		t.Setenv("HEAVY_PROVIDER_API_KEY", "sk-or-env")

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Orchestrator.ParallelAgents)
		assert.Equal(t, 45*time.Second, cfg.Orchestrator.TaskTimeout)
		assert.Equal(t, "sk-or-env", cfg.Provider.APIKey)
	})

	t.Run("should read the provider key variable when api_key is empty", func(t *testing.T) {
		path := writeConfig(t, "provider:\n  type: anthropic\n")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-from-env")

		cfg, err := NewLoader(path).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-ant-from-env", cfg.Provider.APIKey)
	})

	t.Run("should fail for a missing explicit file", func(t *testing.T) {
		_, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load()
		assert.Error(t, err)
	})

	t.Run("should fail for malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "orchestrator: [unclosed\n")
		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})
}

func TestWriteDefault(t *testing.T) {
	t.Run("should write a loadable default config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "config.yaml")
		loader := NewLoader(path)

		written, err := loader.WriteDefault(false)
		require.NoError(t, err)
		assert.Equal(t, path, written)

		cfg, err := loader.Load()
		require.NoError(t, err)
		assert.Equal(t, "openrouter", cfg.Provider.Type)
		assert.Equal(t, 4, cfg.Orchestrator.ParallelAgents)
		assert.Equal(t, 5*time.Minute, cfg.Orchestrator.TaskTimeout)
		assert.Contains(t, cfg.Pricing, "default")
	})

	t.Run("should not overwrite without force", func(t *testing.T) {
		path := writeConfig(t, "models:\n  default: mine\n")
		loader := NewLoader(path)

		_, err := loader.WriteDefault(false)
		assert.ErrorContains(t, err, "already exists")

		_, err = loader.WriteDefault(true)
		assert.NoError(t, err)
	})
}
