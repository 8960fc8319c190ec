// Package scheduler implements the cron-time half of the enqueuer: a
// periodic tick that re-scans for missed job run_ats, enqueues daily digests
// at a configured hour, and enqueues api.refresh jobs per onboarded API
// source at its configured cadence.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
)

// Config tunes the cron tick.
type Config struct {
	TickInterval time.Duration
	DigestHour   int // 0-23, matched against the tick time's hour in the process's local time zone; digest.daily enqueued once per day at this hour
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
}

// Service runs the cron-time enqueuer. Every enqueue it performs is
// idempotent-keyed, so re-running a tick after an outage never double-fires
// — this loop is a safety net over the write-time path in pkg/workitems,
// not a replacement for it.
type Service struct {
	db     *sqlx.DB
	jobs   *jobqueue.Store
	config Config
	sweeps []Sweep

	cancel context.CancelFunc
	done   chan struct{}
}

// Sweep is one maintenance query run on every tick (missed not_before scan,
// digest enqueuer, api.refresh cadence check). Each implementation owns its
// own idempotency-key scheme.
type Sweep interface {
	Run(ctx context.Context, db *sqlx.DB, jobs *jobqueue.Store, now time.Time) error
}

// NewService builds a Service from db and the sweeps to run each tick.
func NewService(db *sqlx.DB, jobs *jobqueue.Store, cfg Config, sweeps ...Sweep) *Service {
	cfg.applyDefaults()
	return &Service{db: db, jobs: jobs, config: cfg, sweeps: sweeps}
}

// Start launches the background cron loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("scheduler started", "tick_interval", s.config.TickInterval)
}

// Stop signals the cron loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("scheduler stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

// runAll runs every sweep; a single sweep's failure is logged and does not
// block the others — cron-time enqueue failures are best-effort and retried
// on the next tick.
func (s *Service) runAll(ctx context.Context) {
	now := time.Now()
	for _, sweep := range s.sweeps {
		if err := sweep.Run(ctx, s.db, s.jobs, now); err != nil {
			slog.Error("scheduler sweep failed", "error", err)
		}
	}
}
