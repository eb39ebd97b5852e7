package transfers

import (
	"context"
	"fmt"
	"time"

	"mercato/internal/transfers/saga"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// WatchdogConfig controls stalled-saga expiry.
type WatchdogConfig struct {
	Schedule   string
	StallAfter time.Duration
	BatchSize  int
}

// Watchdog periodically fails sagas that stopped receiving replies.
type Watchdog struct {
	store       saga.Store
	coordinator *Coordinator
	cfg         WatchdogConfig
	logger      zerolog.Logger
	now         func() time.Time
}

func NewWatchdog(store saga.Store, coordinator *Coordinator, cfg WatchdogConfig, logger zerolog.Logger) *Watchdog {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Watchdog{
		store:       store,
		coordinator: coordinator,
		cfg:         cfg,
		logger:      logger.With().Str("component", "saga-watchdog").Logger(),
		now:         time.Now,
	}
}

// Sweep expires one batch of stalled sagas and returns how many it failed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.cfg.StallAfter)
	stalled, err := w.store.ListStalled(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stalled sagas: %w", err)
	}

	expired := 0
	for _, rec := range stalled {
		ok, err := w.coordinator.Expire(ctx, rec)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

// Run schedules Sweep on the cron spec until ctx ends.
func (w *Watchdog) Run(ctx context.Context) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(w.cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid watchdog schedule %q: %w", w.cfg.Schedule, err)
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		n, err := w.Sweep(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("watchdog sweep failed")
			return
		}
		if n > 0 {
			w.logger.Info().Int("expired", n).Msg("watchdog sweep finished")
		}
	}))

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
