package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/quickreview/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "quickreview",
		Usage:   "Run an AI review of a GitHub pull request or GitLab merge request and post it back",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "quickreview.toml",
				EnvVars: []string{"QUICKREVIEW_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			cmd.ReviewCommand(),
			cmd.BatchCommand(),
			cmd.RecordsCommand(),
			cmd.QueueCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
