package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/jobqueue"
	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/internal/review"
)

// QueueCommand returns the queue command
func QueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Run reviews through the Postgres-backed job queue",
		Subcommands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply the job queue schema",
				Action: runQueueMigrate,
			},
			{
				Name:      "enqueue",
				Usage:     "Queue review jobs",
				ArgsUsage: "URL...",
				Action:    runQueueEnqueue,
			},
			{
				Name:  "work",
				Usage: "Work queued review jobs until interrupted",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "workers",
						Aliases: []string{"w"},
						Usage:   "Number of concurrent reviews",
					},
				},
				Action: runQueueWork,
			},
		},
	}
}

func queueDatabaseURL(cfg *config.Config) (string, error) {
	if cfg.Queue.DatabaseURL != "" {
		return cfg.Queue.DatabaseURL, nil
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN != "" {
		return cfg.Store.DSN, nil
	}
	return "", fmt.Errorf("queue.database_url is not set")
}

// sharedPool returns the publish log's pool when the log lives in the queue database
func sharedPool(store publishlog.Store, storeDSN, queueURL string) *pgxpool.Pool {
	pg, ok := store.(*publishlog.PostgresStore)
	if !ok || storeDSN != queueURL {
		return nil
	}
	return pg.Pool()
}

func queueConfig(cfg *config.Config, workers int) *jobqueue.QueueConfig {
	qc := jobqueue.DefaultQueueConfig()
	if cfg.Queue.Workers > 0 {
		qc.MaxWorkers = cfg.Queue.Workers
	}
	if workers > 0 {
		qc.MaxWorkers = workers
	}
	// leave room for fetch, clone and publish around the assistant session
	if floor := cfg.Assistant.Timeout + 5*time.Minute; qc.JobTimeout < floor {
		qc.JobTimeout = floor
	}
	return qc
}

func runQueueMigrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dbURL, err := queueDatabaseURL(cfg)
	if err != nil {
		return err
	}
	jq, err := jobqueue.NewJobQueue(c.Context, dbURL, queueConfig(cfg, 0), nil)
	if err != nil {
		return err
	}
	defer jq.Close()

	if err := jq.Migrate(c.Context); err != nil {
		return err
	}
	printSuccess(c.App.Writer, "Job queue schema is up to date")
	return nil
}

func runQueueEnqueue(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("expected at least one pull/merge request URL")
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dbURL, err := queueDatabaseURL(cfg)
	if err != nil {
		return err
	}
	jq, err := jobqueue.NewJobQueue(c.Context, dbURL, queueConfig(cfg, 0), nil)
	if err != nil {
		return err
	}
	defer jq.Close()

	for _, url := range c.Args().Slice() {
		id, duplicate, err := jq.EnqueueReview(c.Context, url)
		if err != nil {
			return err
		}
		if duplicate {
			printInfo(c.App.Writer, "Job %d for %s is already queued", id, url)
			continue
		}
		printSuccess(c.App.Writer, "Queued job %d for %s", id, url)
	}
	return nil
}

func runQueueWork(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	dbURL, err := queueDatabaseURL(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)
	svc, err := review.NewServiceFromConfig(ctx, cfg, store)
	if err != nil {
		return err
	}

	qc := queueConfig(cfg, c.Int("workers"))
	var jq *jobqueue.JobQueue
	if pool := sharedPool(store, cfg.Store.DSN, dbURL); pool != nil {
		log.Debug().Msg("Job queue shares the publish log connection pool")
		jq, err = jobqueue.NewJobQueueFromPool(pool, qc, svc)
	} else {
		jq, err = jobqueue.NewJobQueue(ctx, dbURL, qc, svc)
	}
	if err != nil {
		return err
	}
	defer jq.Close()

	if err := jq.Start(ctx); err != nil {
		return fmt.Errorf("failed to start job queue: %w", err)
	}
	printInfo(c.App.Writer, "Working review jobs with %d workers, press Ctrl+C to stop", qc.MaxWorkers)

	<-ctx.Done()
	log.Info().Msg("Shutting down job queue, waiting for running reviews")
	stopCtx, cancel := context.WithTimeout(context.Background(), qc.JobTimeout)
	defer cancel()
	return jq.Stop(stopCtx)
}
