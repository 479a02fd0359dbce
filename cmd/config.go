package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/assistant"
	"github.com/quickreview/internal/assistant/langchain"
	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/publishlog"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Create or check the configuration file",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Write a commented sample configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Where to write the sample",
						Value:   "quickreview.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:  "validate",
				Usage: "Check platforms, assistant, store and queue settings",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "connect",
						Usage: "Open the publish log and apply its migrations",
					},
				},
				Action: runConfigValidate,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	path := c.String("output")
	if err := config.InitConfig(path); err != nil {
		return fmt.Errorf("failed to write sample config: %w", err)
	}
	printSuccess(c.App.Writer, "Wrote sample configuration to %s", path)
	printInfo(c.App.Writer, "Set GITHUB_TOKEN or GITLAB_TOKEN and an assistant api_key, then run: quickreview --config %s config validate", path)
	return nil
}

// sectionCheck is one row of the validate report
type sectionCheck struct {
	Section string
	Detail  string
	Err     error
}

func runConfigValidate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	checks := checkSections(cfg)
	if c.Bool("connect") {
		checks = append(checks, checkStoreConnection(c.Context, cfg))
	}
	writeCheckTable(c.App.Writer, checks)

	failed := 0
	for _, ch := range checks {
		if ch.Err != nil {
			printError(c.App.Writer, "%s: %v", ch.Section, ch.Err)
			failed++
		}
	}
	if err := config.Validate(cfg); err != nil && failed == 0 {
		printError(c.App.Writer, "%v", err)
		failed++
	}
	if failed > 0 {
		return cli.Exit("", 1)
	}
	printSuccess(c.App.Writer, "Configuration is valid")
	return nil
}

// checkSections inspects each configuration section without touching the network
func checkSections(cfg *config.Config) []sectionCheck {
	return []sectionCheck{
		checkPlatforms(cfg),
		checkAssistant(cfg.Assistant),
		checkStore(cfg.Store),
		checkQueue(cfg),
	}
}

func checkPlatforms(cfg *config.Config) sectionCheck {
	ch := sectionCheck{Section: "platforms"}
	var enabled []string
	if cfg.GitHub.Token != "" {
		host := "github.com"
		if cfg.GitHub.BaseURL != "" {
			host = cfg.GitHub.BaseURL
		}
		enabled = append(enabled, "github ("+host+")")
	}
	if cfg.GitLab.Token != "" {
		if cfg.GitLab.URL == "" {
			ch.Err = errors.New("gitlab.token is set but gitlab.url is empty")
		}
		enabled = append(enabled, "gitlab ("+cfg.GitLab.URL+")")
	}
	if len(enabled) == 0 {
		ch.Err = errors.New("no hosting token: set GITHUB_TOKEN or GITLAB_TOKEN")
		ch.Detail = "none"
		return ch
	}
	ch.Detail = strings.Join(enabled, ", ")
	return ch
}

func checkAssistant(cfg config.AssistantConfig) sectionCheck {
	ch := sectionCheck{Section: "assistant"}
	switch cfg.Driver {
	case "command":
		if len(cfg.Command) == 0 {
			ch.Err = errors.New("assistant.command is empty")
			ch.Detail = "command"
			return ch
		}
		ch.Detail = "command: " + strings.Join(cfg.Command, " ")
		if _, err := exec.LookPath(cfg.Command[0]); err != nil {
			ch.Err = fmt.Errorf("%s not found in PATH", cfg.Command[0])
			return ch
		}
	case "langchain", "":
		provider, err := langchain.ParseProvider(cfg.Provider)
		if err != nil {
			ch.Err = err
			ch.Detail = "langchain"
			return ch
		}
		ch.Detail = fmt.Sprintf("langchain/%s %s", provider, cfg.Model)
		if cfg.APIKey == "" && provider != langchain.ProviderOllama {
			ch.Err = fmt.Errorf("assistant.api_key is required for %s", provider)
			return ch
		}
	default:
		ch.Err = fmt.Errorf("unknown driver %q, use langchain or command", cfg.Driver)
		return ch
	}

	if cfg.Timeout <= 0 {
		ch.Err = errors.New("assistant.timeout must be positive")
		return ch
	}
	ch.Detail += fmt.Sprintf(", timeout %s", cfg.Timeout)
	if _, err := assistant.NewPromptBuilder(cfg.PromptTemplate); err != nil {
		ch.Err = fmt.Errorf("prompt template: %w", err)
	}
	return ch
}

func checkStore(cfg config.StoreConfig) sectionCheck {
	ch := sectionCheck{Section: "store", Detail: cfg.Driver}
	switch publishlog.Driver(cfg.Driver) {
	case publishlog.DriverMemory:
		ch.Detail += " (records are lost on exit, re-runs will publish again)"
	case publishlog.DriverSQLite, publishlog.DriverPostgres:
		if cfg.DSN == "" {
			ch.Err = fmt.Errorf("store.dsn is required for %s", cfg.Driver)
			return ch
		}
		ch.Detail += " " + redact(cfg.DSN)
	default:
		ch.Err = fmt.Errorf("unknown driver %q, use memory, sqlite or postgres", cfg.Driver)
	}
	return ch
}

func checkQueue(cfg *config.Config) sectionCheck {
	ch := sectionCheck{Section: "queue"}
	dbURL, err := queueDatabaseURL(cfg)
	if err != nil {
		// the queue is optional
		ch.Detail = "disabled"
		return ch
	}
	ch.Detail = fmt.Sprintf("%s, %d worker(s)", redact(dbURL), queueConfig(cfg, 0).MaxWorkers)
	return ch
}

func checkStoreConnection(ctx context.Context, cfg *config.Config) sectionCheck {
	ch := sectionCheck{Section: "store connection", Detail: "opened, migrations applied"}
	store, err := publishlog.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		ch.Detail = "unreachable"
		ch.Err = err
		return ch
	}
	closeStore(store)
	return ch
}

func writeCheckTable(w io.Writer, checks []sectionCheck) {
	t := newTable(w, "Configuration")
	t.AppendHeader(table.Row{"Section", "Status", "Details"})
	for _, ch := range checks {
		status := text.FgGreen.Sprint("ok")
		if ch.Err != nil {
			status = text.FgRed.Sprint("error")
		}
		t.AppendRow(table.Row{ch.Section, status, short(ch.Detail, 70)})
	}
	t.Render()
}

// redact hides the password of a database URL. Plain file paths pass through.
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}
