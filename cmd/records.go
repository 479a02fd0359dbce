package cmd

import (
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/pkg/models"
)

// RecordsCommand returns the records command
func RecordsCommand() *cli.Command {
	return &cli.Command{
		Name:  "records",
		Usage: "Inspect the publish log",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List publish records, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "platform",
						Usage: "Only show records for github or gitlab",
					},
					&cli.StringFlag{
						Name:  "pr",
						Usage: "Only show records for `PR`, e.g. acme/api#42",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 50,
					},
				},
				Action: runRecordsList,
			},
		},
	}
}

func runRecordsList(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	store, err := openStore(c.Context, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(c.Context, publishlog.Filter{
		Platform: models.Platform(strings.ToLower(c.String("platform"))),
		PRID:     c.String("pr"),
		Limit:    c.Int("limit"),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		printInfo(c.App.Writer, "No publish records")
		return nil
	}
	writeRecordTable(c.App.Writer, records)
	return nil
}
