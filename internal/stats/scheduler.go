package stats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs crawl cycles on a cron schedule.
type Scheduler struct {
	w        *Watcher
	schedule cron.Schedule
	spec     string
}

// NewScheduler parses spec, a standard five-field cron expression or a
// descriptor such as "@every 6h".
func NewScheduler(w *Watcher, spec string) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid crawl schedule %q: %w", spec, err)
	}
	return &Scheduler{w: w, schedule: schedule, spec: spec}, nil
}

// Run crawls once, then on every tick until ctx is cancelled. A tick that
// fires while a cycle is still running is skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCycle(ctx)

	logger := cronLogger{}
	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Schedule(s.schedule, cron.FuncJob(func() { s.runCycle(ctx) }))
	c.Start()
	slog.InfoContext(ctx, "Crawl scheduler started", "schedule", s.spec)

	<-ctx.Done()
	<-c.Stop().Done()
	slog.Info("Crawl scheduler stopped")
	return nil
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.w.RunCrawlCycle(ctx); err != nil {
		slog.ErrorContext(ctx, "Crawl cycle failed", "error", err)
	}
}

// cronLogger forwards cron's logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error(msg, append(keysAndValues, "error", err)...)
}
