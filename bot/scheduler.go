package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweep is a recurring job. Backfiller and Materializer satisfy it.
type Sweep interface {
	RunOnce(ctx context.Context)
}

type job struct {
	sweep Sweep
	mu    sync.Mutex
}

// Scheduler runs sweeps on fixed intervals. A sweep never overlaps with
// itself, whether it was started by the timer or by Trigger.
type Scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	jobs   map[string]*job
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewScheduler(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		ctx:    ctx,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		jobs:   make(map[string]*job),
		logger: logger,
	}
}

// Every schedules sweep under name. It must be called before Start.
func (s *Scheduler) Every(name string, interval time.Duration, sweep Sweep) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval %s for %s", interval, name)
	}
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	j := &job{sweep: sweep}
	if _, err := s.cron.AddFunc("@every "+interval.String(), func() { s.run(name, j) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	s.jobs[name] = j
	s.logger.Info("scheduler.job_added", "job", name, "interval", interval.String())
	return nil
}

// Trigger runs the named sweep now in the background. It reports false when
// no such job exists.
func (s *Scheduler) Trigger(name string) bool {
	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(name, j)
	}()
	return true
}

func (s *Scheduler) run(name string, j *job) {
	if !j.mu.TryLock() {
		s.logger.Debug("scheduler.skipped", "job", name, "reason", "still running")
		return
	}
	defer j.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	j.sweep.RunOnce(s.ctx)
	s.logger.Debug("scheduler.job_done", "job", name, "elapsed", time.Since(start).String())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the timers and waits for running sweeps to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("scheduler.stopped")
}

// cronLogger routes cron's own messages through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("scheduler.cron", append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("scheduler.cron", append([]interface{}{"msg", msg, "error", err}, keysAndValues...)...)
}
