package main

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/blueberrycongee/abgate/internal/metrics"
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type sessionCounter interface {
	Len() int
}

// startPoolMetrics refreshes the DB pool and session gauges every interval
// until ctx is done or the returned stop is called. Either source may be nil.
func startPoolMetrics(ctx context.Context, db dbStatsProvider, sessions sessionCounter, logger *slog.Logger, interval time.Duration) func() {
	if db == nil && sessions == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	update := func() {
		if db != nil {
			metrics.UpdateDBPoolStats(db.Stats())
		}
		if sessions != nil {
			metrics.UpdateConversationSessions(sessions.Len())
		}
	}
	update()

	ticker := time.NewTicker(interval)
	stopCh := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() { close(stopCh) })
	}

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				update()
			case <-ctx.Done():
				stop()
				return
			case <-stopCh:
				return
			}
		}
	}()

	logger.Debug("pool metrics updater started", "interval", interval.String())
	return stop
}
