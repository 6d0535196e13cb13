package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/blueberrycongee/abgate/internal/config"
	"github.com/blueberrycongee/abgate/internal/experiment"
	"github.com/blueberrycongee/abgate/internal/observability"
)

// settingsReloader applies the config fields that can change without a restart.
type settingsReloader struct {
	logger     *slog.Logger
	level      *slog.LevelVar
	assigner   *experiment.Assigner
	inProgress atomic.Bool
}

func newSettingsReloader(logger *slog.Logger, level *slog.LevelVar, assigner *experiment.Assigner) *settingsReloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &settingsReloader{
		logger:   logger,
		level:    level,
		assigner: assigner,
	}
}

func (r *settingsReloader) Reload(cfg *config.Config) {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.logger.Warn("settings reload already in progress")
		return
	}
	defer r.inProgress.Store(false)

	if r.level != nil {
		level, err := observability.ParseLevel(cfg.Logging.Level)
		if err != nil {
			r.logger.Error("failed to apply log level", "error", err)
		} else if level != r.level.Level() {
			r.level.Set(level)
			r.logger.Info("log level changed", "level", level.String())
		}
	}

	if r.assigner != nil {
		policy := fallbackPolicy(cfg.Experiments)
		if policy != r.assigner.Policy() {
			if err := r.assigner.SetPolicy(policy); err != nil {
				r.logger.Error("failed to apply empty pool policy", "error", err)
			} else {
				r.logger.Info("empty pool policy changed",
					"mode", policy.Mode,
					"default_variant", policy.DefaultVariant,
				)
			}
		}
	}
}

func fallbackPolicy(cfg config.ExperimentsConfig) experiment.FallbackPolicy {
	return experiment.FallbackPolicy{
		Mode:           experiment.EmptyPoolMode(cfg.EmptyPoolPolicy),
		DefaultVariant: cfg.DefaultVariant,
	}
}
