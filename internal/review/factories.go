package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/quickreview/internal/assistant"
	"github.com/quickreview/internal/assistant/command"
	"github.com/quickreview/internal/assistant/langchain"
	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/providers/github"
	"github.com/quickreview/internal/providers/gitlab"
	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/internal/workspace"
	"github.com/quickreview/pkg/models"
)

// NewProviderSet creates a provider for every platform that has credentials
func NewProviderSet(cfg *config.Config) (providers.Set, error) {
	var ps []providers.Provider

	if cfg.GitHub.Token != "" {
		p, err := github.New(github.GitHubConfig{
			Token:   cfg.GitHub.Token,
			BaseURL: cfg.GitHub.BaseURL,
			Cache:   cfg.GitHub.Cache,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create GitHub provider: %w", err)
		}
		ps = append(ps, p)
	} else {
		log.Debug().Msg("No GitHub token configured, GitHub URLs will be rejected")
	}

	if cfg.GitLab.Token != "" {
		p, err := gitlab.New(gitlab.GitLabConfig{
			URL:               cfg.GitLab.URL,
			Token:             cfg.GitLab.Token,
			RequestsPerSecond: cfg.GitLab.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create GitLab provider: %w", err)
		}
		ps = append(ps, p)
	} else {
		log.Debug().Msg("No GitLab token configured, GitLab URLs will be rejected")
	}

	if len(ps) == 0 {
		return nil, fmt.Errorf("no hosting credentials configured: set GITHUB_TOKEN or GITLAB_TOKEN")
	}
	return providers.NewSet(ps...), nil
}

// NewBackend creates the assistant backend named by assistant.driver
func NewBackend(ctx context.Context, cfg config.AssistantConfig) (assistant.Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "langchain", "":
		provider, err := langchain.ParseProvider(cfg.Provider)
		if err != nil {
			return nil, err
		}
		options := langchain.ConnectorOptions{
			Provider:    provider,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}
		model, err := langchain.NewModel(ctx, options)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s model: %w", provider, err)
		}
		return langchain.NewBackend(model, options, cfg.MaxToolRounds), nil
	case "command":
		b, err := command.New(cfg.Command)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported assistant driver: %s", cfg.Driver)
	}
}

// NewAnalyzer wires the backend into a driver with the configured prompt and budget
func NewAnalyzer(ctx context.Context, cfg config.AssistantConfig) (*assistant.Driver, error) {
	backend, err := NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	prompts, err := assistant.NewPromptBuilder(cfg.PromptTemplate)
	if err != nil {
		return nil, err
	}
	return assistant.NewDriver(backend, prompts, cfg.Timeout), nil
}

// NewCheckouts creates the working copy manager with clone credentials
func NewCheckouts(cfg *config.Config) *workspace.Manager {
	return workspace.NewManager(workspace.Options{
		Depth: cfg.Workspace.CloneDepth,
		Tokens: map[models.Platform]string{
			models.PlatformGitHub: cfg.GitHub.Token,
			models.PlatformGitLab: cfg.GitLab.Token,
		},
	})
}

// NewServiceFromConfig assembles a Service. The store is owned by the caller.
func NewServiceFromConfig(ctx context.Context, cfg *config.Config, store publishlog.Store) (*Service, error) {
	set, err := NewProviderSet(cfg)
	if err != nil {
		return nil, err
	}
	analyzer, err := NewAnalyzer(ctx, cfg.Assistant)
	if err != nil {
		return nil, err
	}
	return NewService(set, analyzer, NewCheckouts(cfg), store, ServiceConfig(cfg)), nil
}
