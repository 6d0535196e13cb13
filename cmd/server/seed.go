package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/blueberrycongee/abgate/internal/config"
	"github.com/blueberrycongee/abgate/internal/experiment"
)

const seedTimeout = 5 * time.Second

// seedExperiments writes the configured pool at startup. A store outage is
// logged and tolerated; requests then follow the empty pool policy until the
// store is reachable and seeded by an operator.
func seedExperiments(ctx context.Context, store experiment.Store, cfg config.ExperimentsConfig, logger *slog.Logger) error {
	if len(cfg.Seed) == 0 {
		logger.Info("experiment seeding skipped", "reason", "no seed variants configured")
		return nil
	}
	mode, err := experiment.ParseSeedMode(cfg.SeedMode)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, seedTimeout)
	defer cancel()
	if err := store.Seed(ctx, cfg.Seed, mode); err != nil {
		logger.Error("experiment seeding failed", "key", cfg.Key, "mode", mode, "error", err)
		return nil
	}

	pool, err := store.List(ctx)
	if err != nil {
		logger.Warn("experiment pool read after seeding failed", "key", cfg.Key, "error", err)
		return nil
	}
	logger.Info("experiment pool seeded", "key", cfg.Key, "mode", mode, "variants", pool)
	return nil
}
