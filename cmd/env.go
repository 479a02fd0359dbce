package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/quickreview/internal/config"
	"github.com/quickreview/internal/logging"
	"github.com/quickreview/internal/publishlog"
	"github.com/quickreview/internal/review"
)

// loadConfig reads the configuration named by the global --config flag and
// configures the global logger from it
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.General.LogLevel
	if c.Bool("verbose") {
		level = "debug"
	}
	logging.Setup(level, cfg.General.LogFormat, os.Stderr)
	log.Debug().Str("config", c.String("config")).Str("store", cfg.Store.Driver).Msg("Configuration loaded")
	return cfg, nil
}

// openStore opens the configured publish log
func openStore(ctx context.Context, cfg *config.Config) (publishlog.Store, error) {
	store, err := publishlog.Open(ctx, cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open publish log (%s): %w", cfg.Store.Driver, err)
	}
	return store, nil
}

// newService validates cfg and builds the orchestrator. The returned close
// function releases the publish log.
func newService(ctx context.Context, cfg *config.Config) (*review.Service, func(), error) {
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	svc, err := review.NewServiceFromConfig(ctx, cfg, store)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return svc, func() { closeStore(store) }, nil
}

func closeStore(store publishlog.Store) {
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
}
