package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/quickreview/internal/retry"
)

// EnvPrefix is the prefix of environment overrides, e.g. QUICKREVIEW_GITLAB_TOKEN
const EnvPrefix = "QUICKREVIEW_"

// Config represents the application configuration
type Config struct {
	General struct {
		LogLevel  string `koanf:"log_level"`
		LogFormat string `koanf:"log_format"`
		LogDir    string `koanf:"log_dir"`
		DryRun    bool   `koanf:"dry_run"`
	} `koanf:"general"`

	GitHub GitHubConfig `koanf:"github"`
	GitLab GitLabConfig `koanf:"gitlab"`

	Assistant AssistantConfig `koanf:"assistant"`
	Workspace WorkspaceConfig `koanf:"workspace"`
	Review    ReviewConfig    `koanf:"review"`

	Retry struct {
		Fetch           retry.RetryConfig `koanf:"fetch"`
		Publish         retry.RetryConfig `koanf:"publish"`
		AnalyzeAttempts int               `koanf:"analyze_attempts"`
	} `koanf:"retry"`

	Store StoreConfig `koanf:"store"`

	Batch struct {
		Workers int `koanf:"workers"`
	} `koanf:"batch"`

	Queue struct {
		DatabaseURL string `koanf:"database_url"`
		Workers     int    `koanf:"workers"`
	} `koanf:"queue"`
}

// GitHubConfig holds GitHub access settings; the token defaults to GITHUB_TOKEN
type GitHubConfig struct {
	Token   string `koanf:"token"`
	BaseURL string `koanf:"base_url"` // GitHub Enterprise API root, empty for github.com
	Cache   bool   `koanf:"cache"`
}

// GitLabConfig holds GitLab access settings
type GitLabConfig struct {
	URL               string  `koanf:"url"`
	Token             string  `koanf:"token"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// AssistantConfig selects and tunes the assistant driver
type AssistantConfig struct {
	Driver         string        `koanf:"driver"`   // "langchain" or "command"
	Provider       string        `koanf:"provider"` // anthropic, openai, googleai, ollama
	Model          string        `koanf:"model"`
	APIKey         string        `koanf:"api_key"`
	BaseURL        string        `koanf:"base_url"`
	Timeout        time.Duration `koanf:"timeout"`
	MaxTokens      int           `koanf:"max_tokens"`
	Temperature    float64       `koanf:"temperature"`
	MaxToolRounds  int           `koanf:"max_tool_rounds"`
	Command        []string      `koanf:"command"`
	PromptTemplate string        `koanf:"prompt_template"`
}

// WorkspaceConfig controls the optional local checkout stage
type WorkspaceConfig struct {
	ProjectPath string `koanf:"project_path"`
	Checkout    bool   `koanf:"checkout"`
	CloneDepth  int    `koanf:"clone_depth"`
}

// ReviewConfig tunes orchestrator behaviour
type ReviewConfig struct {
	SkipReviewedRevisions bool `koanf:"skip_reviewed_revisions"`
}

// StoreConfig selects the publish log backend
type StoreConfig struct {
	Driver string `koanf:"driver"` // memory, sqlite, postgres
	DSN    string `koanf:"dsn"`
}

func defaults() map[string]interface{} {
	fetch := retry.DefaultRetryConfig()
	return map[string]interface{}{
		"general.log_level":  "info",
		"general.log_format": "console",
		"general.log_dir":    "review_logs",

		"gitlab.url":                 "https://gitlab.com",
		"gitlab.requests_per_second": 5.0,

		"assistant.driver":          "langchain",
		"assistant.provider":        "anthropic",
		"assistant.model":           "claude-sonnet-4-5",
		"assistant.timeout":         "10m",
		"assistant.max_tokens":      8192,
		"assistant.temperature":     0.2,
		"assistant.max_tool_rounds": 6,

		"workspace.clone_depth": 1,

		"retry.fetch.max_attempts":   fetch.MaxAttempts,
		"retry.fetch.base_delay":     fetch.BaseDelay.String(),
		"retry.fetch.max_delay":      fetch.MaxDelay.String(),
		"retry.fetch.multiplier":     fetch.Multiplier,
		"retry.fetch.jitter":         fetch.Jitter,
		"retry.fetch.log_retries":    fetch.LogRetries,
		"retry.publish.max_attempts": fetch.MaxAttempts,
		"retry.publish.base_delay":   fetch.BaseDelay.String(),
		"retry.publish.max_delay":    fetch.MaxDelay.String(),
		"retry.publish.multiplier":   fetch.Multiplier,
		"retry.publish.jitter":       fetch.Jitter,
		"retry.publish.log_retries":  fetch.LogRetries,
		"retry.analyze_attempts":     retry.AnalyzeRetryConfig().MaxAttempts,

		"store.driver": "sqlite",
		"store.dsn":    "quickreview.db",

		"batch.workers": 4,
		"queue.workers": 2,
	}
}

// LoadConfig loads the configuration from defaults, a TOML file, .env and the environment
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	loaded := false
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config: %w", err)
			}
			loaded = true
		} else if configPath != DefaultConfigFile {
			return nil, fmt.Errorf("error reading config %s: %w", configPath, err)
		}
	}
	if !loaded {
		for _, path := range []string{"$HOME/.quickreview.toml", "/etc/quickreview/quickreview.toml"} {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// .env never overrides variables already present in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("error loading environment: %w", err)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	if config.GitHub.Token == "" {
		config.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if config.GitLab.Token == "" {
		config.GitLab.Token = os.Getenv("GITLAB_TOKEN")
	}
	if config.Queue.DatabaseURL == "" {
		config.Queue.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	return &config, nil
}

// envKey maps QUICKREVIEW_GITLAB_TOKEN to gitlab.token.
// A double underscore separates nested sections: QUICKREVIEW_RETRY__FETCH__MAX_ATTEMPTS.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if strings.Contains(s, "__") {
		return strings.ReplaceAll(s, "__", ".")
	}
	return strings.Replace(s, "_", ".", 1)
}

// DefaultConfigFile is used when --config is not given
const DefaultConfigFile = "quickreview.toml"

const sampleConfig = `# quickreview configuration

[general]
log_level = "info"
log_format = "console"
log_dir = "review_logs"

[github]
# token falls back to the GITHUB_TOKEN environment variable
token = ""

[gitlab]
url = "https://gitlab.com"
token = "your-gitlab-token"
requests_per_second = 5

[assistant]
driver = "langchain"
provider = "anthropic"
model = "claude-sonnet-4-5"
api_key = "your-api-key"
timeout = "10m"
# driver = "command" runs a local agent CLI with the prompt on stdin
# command = ["claude", "-p", "--output-format", "text"]

[workspace]
project_path = ""
checkout = false
clone_depth = 1

[retry.fetch]
max_attempts = 3
base_delay = "1s"
max_delay = "30s"

[retry.publish]
max_attempts = 3
base_delay = "1s"
max_delay = "30s"

[store]
driver = "sqlite"
dsn = "quickreview.db"

[batch]
workers = 4
`

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}
	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	var problems []string

	if config.GitHub.Token == "" && config.GitLab.Token == "" {
		problems = append(problems, "no platform credentials: set GITHUB_TOKEN or gitlab.token")
	}
	if config.GitLab.Token != "" && config.GitLab.URL == "" {
		problems = append(problems, "gitlab url is required")
	}

	switch config.Assistant.Driver {
	case "langchain":
		switch config.Assistant.Provider {
		case "anthropic", "openai", "googleai":
			if config.Assistant.APIKey == "" {
				problems = append(problems, fmt.Sprintf("assistant api_key is required for %s", config.Assistant.Provider))
			}
		case "ollama":
		default:
			problems = append(problems, fmt.Sprintf("unsupported assistant provider %q", config.Assistant.Provider))
		}
	case "command":
		if len(config.Assistant.Command) == 0 {
			problems = append(problems, "assistant command is required for the command driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported assistant driver %q", config.Assistant.Driver))
	}
	if config.Assistant.Timeout <= 0 {
		problems = append(problems, "assistant timeout must be positive")
	}

	if config.Retry.Fetch.MaxAttempts < 1 || config.Retry.Publish.MaxAttempts < 1 {
		problems = append(problems, "retry max_attempts must be at least 1")
	}
	if config.Retry.AnalyzeAttempts < 1 || config.Retry.AnalyzeAttempts > 2 {
		problems = append(problems, "retry analyze_attempts must be 1 or 2")
	}

	switch config.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if config.Store.DSN == "" {
			problems = append(problems, fmt.Sprintf("store dsn is required for %s", config.Store.Driver))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported store driver %q", config.Store.Driver))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
