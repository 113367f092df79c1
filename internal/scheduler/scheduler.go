// Package scheduler runs the relay's background maintenance: session
// history retention and the daily usage summary.
package scheduler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/config"
	"github.com/statecast-project/statecast/internal/db"
)

// HistoryStore is the part of the session store the scheduler maintains.
type HistoryStore interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Totals(ctx context.Context) (db.SessionTotals, error)
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg   *config.Config
	store HistoryStore
	now   func() time.Time
}

// NewScheduler creates a new task scheduler. store may be nil when session
// history is disabled, in which case Start only waits for ctx.
func NewScheduler(cfg *config.Config, store HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: store,
		now:   time.Now,
	}
}

// Start runs every task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	if s.store != nil {
		interval := time.Duration(s.cfg.GetApplicationData().Timers.RetentionInterval) * time.Second
		if interval > 0 {
			go s.every(ctx, interval, s.runRetention)
		}
		go s.every(ctx, 24*time.Hour, s.collectStats)
	}

	<-ctx.Done()
	log.Info().Msg("scheduler stopped")
}

// every runs fn immediately and then once per interval.
func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RetentionCutoff returns the oldest close time that is kept.
func (s *Scheduler) RetentionCutoff() time.Time {
	days := s.cfg.GetApplicationData().Database.RetentionDays
	return s.now().AddDate(0, 0, -days)
}

// runRetention deletes session history older than the retention window.
func (s *Scheduler) runRetention(ctx context.Context) {
	cutoff := s.RetentionCutoff()

	removed, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("session retention failed")
		return
	}

	log.Debug().
		Time("cutoff", cutoff).
		Int64("removed", removed).
		Msg("session retention completed")
}

// collectStats logs a summary of the stored history.
func (s *Scheduler) collectStats(ctx context.Context) {
	totals, err := s.store.Totals(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to collect session stats")
		return
	}

	log.Info().
		Int64("sessions", totals.Sessions).
		Uint64("frames_in", totals.FramesIn).
		Str("bytes_in", humanize.IBytes(totals.BytesIn)).
		Uint64("frames_out", totals.FramesOut).
		Msg("session history stats")
}
