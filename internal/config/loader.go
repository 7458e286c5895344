package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Kylo111/make-it-heavy/pkg/llm"
)

// EnvPrefix prefixes every environment override, e.g. HEAVY_ORCHESTRATOR_PARALLEL_AGENTS.
const EnvPrefix = "HEAVY"

// providerKeyEnv maps provider types to the conventional API key variable
// consulted when provider.api_key is unset.
var providerKeyEnv = map[string]string{
	llm.ProviderOpenAI:     "OPENAI_API_KEY",
	llm.ProviderOpenRouter: "OPENROUTER_API_KEY",
	llm.ProviderDeepSeek:   "DEEPSEEK_API_KEY",
	llm.ProviderAnthropic:  "ANTHROPIC_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path searches
// ./config.yaml and then ~/.heavy/config.yaml.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, applies environment overrides and returns the
// result. A missing file is only an error when the path was given
// explicitly.
func (l *Loader) Load() (*Config, error) {
	// Model names such as gpt-4.1 appear as pricing keys, so "." cannot be
	// the key delimiter.
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := defaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		if env, ok := providerKeyEnv[strings.ToLower(cfg.Provider.Type)]; ok {
			cfg.Provider.APIKey = os.Getenv(env)
		}
	}

	return cfg, nil
}

const keyDelimiter = "::"

func key(dotted string) string {
	return strings.ReplaceAll(dotted, ".", keyDelimiter)
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault(key("provider.type"), d.Provider.Type)
	v.SetDefault(key("provider.api_key"), d.Provider.APIKey)
	v.SetDefault(key("provider.base_url"), d.Provider.BaseURL)
	v.SetDefault(key("provider.require_tools"), d.Provider.RequireTools)

	v.SetDefault(key("models.default"), d.Models.Default)
	v.SetDefault(key("models.question_generation"), d.Models.QuestionGeneration)
	v.SetDefault(key("models.synthesis"), d.Models.Synthesis)
	v.SetDefault(key("models.agents"), d.Models.Agents)

	v.SetDefault(key("agent.max_iterations"), d.Agent.MaxIterations)
	v.SetDefault(key("agent.max_retries"), d.Agent.MaxRetries)
	v.SetDefault(key("agent.retry_backoff"), d.Agent.RetryBackoff)
	v.SetDefault(key("agent.temperature"), d.Agent.Temperature)
	v.SetDefault(key("agent.max_tokens"), d.Agent.MaxTokens)

	v.SetDefault(key("orchestrator.parallel_agents"), d.Orchestrator.ParallelAgents)
	v.SetDefault(key("orchestrator.task_timeout"), d.Orchestrator.TaskTimeout)
	v.SetDefault(key("orchestrator.global_deadline"), d.Orchestrator.GlobalDeadline)
	v.SetDefault(key("orchestrator.max_concurrent"), d.Orchestrator.MaxConcurrent)
	v.SetDefault(key("orchestrator.question_timeout"), d.Orchestrator.QuestionTimeout)
	v.SetDefault(key("orchestrator.synthesis_timeout"), d.Orchestrator.SynthesisTimeout)
	v.SetDefault(key("orchestrator.question_generation_prompt"), d.Orchestrator.QuestionGenerationPrompt)
	v.SetDefault(key("orchestrator.synthesis_prompt"), d.Orchestrator.SynthesisPrompt)
	v.SetDefault(key("orchestrator.budget_limit"), d.Orchestrator.BudgetLimit)

	v.SetDefault(key("system_prompt"), d.SystemPrompt)

	v.SetDefault(key("tools.allow"), d.Tools.Allow)
	v.SetDefault(key("tools.deny"), d.Tools.Deny)
	v.SetDefault(key("tools.timeout"), d.Tools.Timeout)
	v.SetDefault(key("tools.max_output_bytes"), d.Tools.MaxOutputBytes)

	v.SetDefault(key("logging.level"), d.Logging.Level)
	v.SetDefault(key("logging.file"), d.Logging.File)
	v.SetDefault(key("logging.pretty"), d.Logging.Pretty)
	v.SetDefault(key("logging.redaction"), d.Logging.Redaction)

	v.SetDefault(key("server.host"), d.Server.Host)
	v.SetDefault(key("server.port"), d.Server.Port)
	v.SetDefault(key("server.auth_token"), d.Server.AuthToken)
	v.SetDefault(key("server.requests_per_minute"), d.Server.RequestsPerMinute)
	v.SetDefault(key("server.max_concurrent"), d.Server.MaxConcurrent)
	v.SetDefault(key("server.shutdown_timeout"), d.Server.ShutdownTimeout)

	v.SetDefault(key("telemetry.tracing"), d.Telemetry.Tracing)
	v.SetDefault(key("telemetry.service_name"), d.Telemetry.ServiceName)
	v.SetDefault(key("telemetry.endpoint"), d.Telemetry.Endpoint)
	v.SetDefault(key("telemetry.insecure"), d.Telemetry.Insecure)
}

// WriteDefault writes the annotated default config to the loader's path, or
// to ~/.heavy/config.yaml. Existing files are kept unless force is set.
func (l *Loader) WriteDefault(force bool) (string, error) {
	path := l.GetConfigPath()
	if path == "" {
		return "", errors.New("failed to resolve config path")
	}

	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config file already exists: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultYAML), 0600); err != nil {
		return path, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	dir, err := defaultDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

func defaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".heavy"), nil
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

// DefaultYAML is the file written by `heavy init`.
const DefaultYAML = `# heavy configuration
provider:
  type: openrouter          # openai, openrouter, deepseek, anthropic
  api_key: ""               # or OPENROUTER_API_KEY / HEAVY_PROVIDER_API_KEY
  base_url: ""

models:
  default: openai/gpt-4o-mini
  question_generation: ""   # empty uses default
  synthesis: ""
  agents: []                # per agent index, e.g. [model-a, model-b]

agent:
  max_iterations: 10
  max_retries: 3
  retry_backoff: 1s
  temperature: 0.7

orchestrator:
  parallel_agents: 4
  task_timeout: 5m
  global_deadline: 0s       # 0 waits for every agent
  max_concurrent: 0         # 0 starts every agent at once
  synthesis_timeout: 2m
  budget_limit: 0           # USD, 0 disables cost alerts

tools:
  allow: []
  deny: []
  timeout: 30s

pricing:
  default:
    input_per_1m: 0.15
    output_per_1m: 0.60

logging:
  level: info
  pretty: true
  redaction: true

server:
  host: 127.0.0.1
  port: 8080
  auth_token: ""            # or HEAVY_SERVER_AUTH_TOKEN; empty disables auth
  requests_per_minute: 60
  max_concurrent: 2         # orchestrations served at once
  shutdown_timeout: 30s

telemetry:
  tracing: false
  service_name: heavy
  endpoint: ""              # OTLP/HTTP collector, e.g. localhost:4318
  insecure: false
`
