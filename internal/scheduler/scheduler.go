// Package scheduler runs the periodic producers: crisis sweeps, retention
// maintenance, and weather refreshes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/robfig/cron/v3"
)

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on cron schedules. A job that is still running when
// its next tick arrives skips that tick.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates an idle scheduler.
func New(logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		ctx:     context.Background(),
		logger:  logger,
		metrics: metrics,
	}
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(job Job) error {
	if _, err := s.cron.AddFunc(job.Schedule, s.wrap(job)); err != nil {
		return fmt.Errorf("schedule %s %q: %w", job.Name, job.Schedule, err)
	}
	s.logger.Info("job scheduled", "job", job.Name, "schedule", job.Schedule)
	return nil
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits for
// running jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		start := time.Now()
		if err := job.Run(s.ctx); err != nil {
			s.metrics.JobRuns.WithLabelValues(job.Name, "error").Inc()
			s.logger.Warn("job failed", "job", job.Name, "error", err, "duration", time.Since(start))
			return
		}
		s.metrics.JobRuns.WithLabelValues(job.Name, "success").Inc()
		s.logger.Debug("job finished", "job", job.Name, "duration", time.Since(start))
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
