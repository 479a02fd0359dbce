package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/batch"
)

// BatchCommand returns the batch command
func BatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "batch",
		Usage: "Review many pull/merge requests in parallel",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Read URLs from `FILE`, one per line (- for stdin)",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "Number of concurrent reviews",
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Run the reviews without posting anything",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging for this command",
			},
		},
		ArgsUsage: "[URL...]",
		Action:    runBatch,
	}
}

func runBatch(c *cli.Context) error {
	urls := c.Args().Slice()
	if path := c.String("file"); path != "" {
		fromFile, err := readURLFile(path)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given: pass them as arguments or with --file")
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("dry-run") {
		cfg.General.DryRun = true
	}

	batchCfg := batch.DefaultConfig()
	if cfg.Batch.Workers > 0 {
		batchCfg.MaxWorkers = cfg.Batch.Workers
	}
	if n := c.Int("workers"); n > 0 {
		batchCfg.MaxWorkers = n
	}

	svc, closeStore, err := newService(c.Context, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	w := c.App.Writer
	printInfo(w, "Reviewing %d URLs with %d workers", len(urls), batchCfg.MaxWorkers)
	summary := batch.NewRunner(svc, batchCfg).Run(c.Context, urls)
	writeOutcomeTable(w, summary.Outcomes)

	if failed := summary.Failed(); failed > 0 {
		printError(w, "%d of %d reviews failed in %v", failed, len(summary.Outcomes), summary.Duration.Round(time.Millisecond))
		return cli.Exit("", 1)
	}
	printSuccess(w, "%d reviews finished in %v", len(summary.Outcomes), summary.Duration.Round(time.Millisecond))
	return nil
}

func readURLFile(path string) ([]string, error) {
	if path == "-" {
		return batch.ReadURLs(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open URL list: %w", err)
	}
	defer f.Close()
	return batch.ReadURLs(f)
}
