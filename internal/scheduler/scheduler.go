// Package scheduler runs the periodic maintenance tasks: closing idle router
// connections, pruning the audit log and publishing heartbeats.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/gsemu-project/gsemu/internal/config"
	"github.com/gsemu-project/gsemu/internal/util"
)

// ConnectionSweeper closes idle connections.
type ConnectionSweeper interface {
	CleanStale(timeout time.Duration) int
	Count() int
}

// AuditPruner deletes audit rows past retention.
type AuditPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// HeartbeatPublisher publishes a liveness message.
type HeartbeatPublisher interface {
	PublishHeartbeat(status map[string]interface{}) error
}

// StatsSource contributes counters to the heartbeat.
type StatsSource interface {
	Stats() map[string]interface{}
}

// Options configures a Scheduler. A task runs only when its collaborator
// is set and its interval is positive.
type Options struct {
	Connections ConnectionSweeper
	Audit       AuditPruner
	Heartbeat   HeartbeatPublisher
	// Stats are merged into every heartbeat.
	Stats []StatsSource

	SweepInterval     time.Duration
	IdleTimeout       time.Duration
	PruneInterval     time.Duration
	Retention         time.Duration
	HeartbeatInterval time.Duration
}

// OptionsFromConfig fills the intervals from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	timers := cfg.GetTimers()
	return Options{
		SweepInterval:     seconds(timers.StaleSweepInterval),
		IdleTimeout:       seconds(cfg.GetRouter().IdleTimeoutSec),
		PruneInterval:     seconds(timers.AuditPruneInterval),
		Retention:         time.Duration(cfg.GetDatabase().RetentionDays) * 24 * time.Hour,
		HeartbeatInterval: seconds(timers.HeartbeatInterval),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	opts    Options
	started time.Time
	logger  zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(opts Options) *Scheduler {
	return &Scheduler{
		opts:    opts,
		started: time.Now(),
		logger:  util.ComponentLogger("scheduler"),
	}
}

// Start runs every enabled task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(name string, interval time.Duration, task func(context.Context)) {
		if interval <= 0 {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, name, interval, task)
		}()
	}

	if s.opts.Connections != nil && s.opts.IdleTimeout > 0 {
		run("stale_sweep", s.opts.SweepInterval, func(context.Context) { s.SweepStale() })
	}
	if s.opts.Audit != nil && s.opts.Retention > 0 {
		run("audit_prune", s.opts.PruneInterval, s.PruneAudit)
	}
	if s.opts.Heartbeat != nil {
		run("heartbeat", s.opts.HeartbeatInterval, func(context.Context) { s.PublishHeartbeat() })
	}

	s.logger.Info().Msg("scheduler started")
	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	s.logger.Debug().Str("task", name).Dur("interval", interval).Msg("task scheduled")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// SweepStale closes connections idle past the configured timeout.
func (s *Scheduler) SweepStale() int {
	n := s.opts.Connections.CleanStale(s.opts.IdleTimeout)
	if n > 0 {
		s.logger.Info().Int("closed", n).Msg("idle connections closed")
	}
	return n
}

// PruneAudit deletes audit rows past retention.
func (s *Scheduler) PruneAudit(ctx context.Context) {
	if _, err := s.opts.Audit.Prune(ctx, s.opts.Retention); err != nil {
		s.logger.Warn().Err(err).Msg("audit prune failed")
	}
}

// PublishHeartbeat publishes process and connection status.
func (s *Scheduler) PublishHeartbeat() {
	usage := util.GetProcessUsage(s.started)
	status := map[string]interface{}{
		"uptime_sec":  usage.UptimeSec,
		"goroutines":  usage.Goroutines,
		"cpu_percent": usage.CPUPercent,
		"rss_mb":      usage.RSSMB,
	}
	if s.opts.Connections != nil {
		status["connections"] = s.opts.Connections.Count()
	}
	for _, src := range s.opts.Stats {
		for k, v := range src.Stats() {
			status[k] = v
		}
	}
	if err := s.opts.Heartbeat.PublishHeartbeat(status); err != nil {
		s.logger.Warn().Err(err).Msg("heartbeat failed")
	}
}
