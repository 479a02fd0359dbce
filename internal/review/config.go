package review

import (
	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/providers"
	"github.com/quickreview/internal/retry"
)

// ServiceConfig derives the orchestrator settings from the loaded configuration
func ServiceConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	c.Hosts = providers.Hosts{}
	if cfg.GitHub.BaseURL != "" {
		c.Hosts.GitHub = append(c.Hosts.GitHub, cfg.GitHub.BaseURL)
	}
	if cfg.GitLab.URL != "" {
		c.Hosts.GitLab = append(c.Hosts.GitLab, cfg.GitLab.URL)
	}

	if cfg.Retry.Fetch.MaxAttempts > 0 {
		c.FetchRetry = cfg.Retry.Fetch
	}
	if cfg.Retry.Publish.MaxAttempts > 0 {
		c.PublishRetry = cfg.Retry.Publish
	}
	if n := cfg.Retry.AnalyzeAttempts; n > 0 {
		c.AnalyzeRetry = retry.AnalyzeRetryConfig()
		c.AnalyzeRetry.MaxAttempts = n
	}

	c.ProjectPath = cfg.Workspace.ProjectPath
	c.Checkout = cfg.Workspace.Checkout
	c.DryRun = cfg.General.DryRun
	c.SkipReviewedRevisions = cfg.Review.SkipReviewedRevisions
	c.LogDir = cfg.General.LogDir
	return c
}
