// Package sweeper runs scheduled cache maintenance.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/labscreen/screenresults/internal/config"
)

const (
	jobName         = "cache-sweep"
	defaultSchedule = "*/15 * * * *"
	defaultTimeout  = 5 * time.Minute
)

// ErrEmptySchedule is returned when the sweeper is enabled without a schedule.
var ErrEmptySchedule = errors.New("sweeper: schedule is required")

type (
	// Config holds the sweep schedule.
	Config struct {
		Enabled  bool
		Schedule string // cron expression, seconds field optional
		Timeout  time.Duration
	}

	// Sweepable evicts expired and over-budget cache entries.
	Sweepable interface {
		Sweep(ctx context.Context)
	}

	// Sweeper triggers Sweep on a cron schedule. Runs never overlap.
	Sweeper struct {
		scheduler gocron.Scheduler
		job       gocron.Job
		target    Sweepable
		cfg       *Config
		logger    *slog.Logger
	}

	// Status describes the sweep job.
	Status struct {
		Schedule string
		LastRun  time.Time // zero if never run
		NextRun  time.Time // zero if not scheduled
	}
)

// LoadConfig reads sweeper.* settings.
func LoadConfig() *Config {
	return &Config{
		Enabled:  config.GetBool("sweeper.enabled", true),
		Schedule: config.GetString("sweeper.schedule", defaultSchedule),
		Timeout:  config.GetDuration("sweeper.timeout", defaultTimeout),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Enabled && c.Schedule == "" {
		return ErrEmptySchedule
	}

	return nil
}

// New creates a Sweeper and registers its job. Call Start to begin.
func New(cfg *Config, target Sweepable, logger *slog.Logger) (*Sweeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create cron scheduler: %w", err)
	}

	s := &Sweeper{
		scheduler: scheduler,
		target:    target,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "sweeper")),
	}

	s.job, err = scheduler.NewJob(
		gocron.CronJob(cfg.Schedule, true),
		gocron.NewTask(s.RunOnce),
		gocron.WithName(jobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()

		return nil, fmt.Errorf("create scheduled job %s: %w", jobName, err)
	}

	return s, nil
}

// RunOnce performs one sweep bounded by the configured timeout.
func (s *Sweeper) RunOnce() {
	ctx := context.Background()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	s.target.Sweep(ctx)
	s.logger.Debug("cache sweep finished", slog.Duration("duration", time.Since(start)))
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for a running
// sweep to finish.
func (s *Sweeper) Run(ctx context.Context) error {
	s.scheduler.Start()
	s.logger.Info("sweeper started", slog.String("schedule", s.cfg.Schedule))

	<-ctx.Done()

	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("stop sweeper: %w", err)
	}

	s.logger.Info("sweeper stopped")

	return nil
}

// Status reports the job's last and next run.
func (s *Sweeper) Status() Status {
	st := Status{Schedule: s.cfg.Schedule}

	if lr, err := s.job.LastRun(); err == nil {
		st.LastRun = lr
	}

	if nr, err := s.job.NextRun(); err == nil {
		st.NextRun = nr
	}

	return st
}
