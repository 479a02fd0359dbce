package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/review"
)

// ReviewCommand returns the review command
func ReviewCommand() *cli.Command {
	return &cli.Command{
		Name:  "review",
		Usage: "Review a pull/merge request and publish the result",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Run the review without posting anything",
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "Use the local checkout in `DIR` as the assistant's working directory",
			},
			&cli.BoolFlag{
				Name:  "checkout",
				Usage: "Clone the head revision into a temporary directory for the assistant",
			},
			&cli.StringFlag{
				Name:  "prompt-template",
				Usage: "Render the user prompt from template `FILE`",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		ArgsUsage: "URL",
		Action:    runReview,
	}
}

func runReview(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one pull/merge request URL")
	}
	url := c.Args().Get(0)

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("dry-run") {
		cfg.General.DryRun = true
	}
	if dir := c.String("project"); dir != "" {
		cfg.Workspace.ProjectPath = dir
	}
	if c.Bool("checkout") {
		cfg.Workspace.Checkout = true
	}
	if tmpl := c.String("prompt-template"); tmpl != "" {
		cfg.Assistant.PromptTemplate = tmpl
	}

	svc, closeStore, err := newService(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w := c.App.Writer
	printInfo(w, "Reviewing %s", url)
	out := svc.Run(c.Context, url)
	if out.Kind == review.OutcomeDryRun && out.Result != nil {
		fmt.Fprintln(w, renderPreview(out))
	}
	printOutcome(w, out)

	if !out.Succeeded() {
		return cli.Exit("", 1)
	}
	return nil
}
