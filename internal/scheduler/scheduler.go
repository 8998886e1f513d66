// Package scheduler runs workflow jobs on cron schedules for the daemon.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc is called when a scheduled job fires. Errors are logged.
type JobFunc func(ctx context.Context) error

// Scheduler manages named cron jobs. A job that is still running when its
// next tick arrives skips that tick.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string][]cron.EntryID
	logger *zap.SugaredLogger
	ctx    context.Context
}

// New creates a new scheduler.
func New(logger *zap.SugaredLogger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger}), cron.SkipIfStillRunning(cronLogger{logger}))),
		jobs:   make(map[string][]cron.EntryID),
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start begins the cron scheduler. Blocks until ctx is cancelled, then
// waits for running jobs to finish. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Infow("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Infow("scheduler stopped")
	return ctx.Err()
}

// AddJob schedules fn under name. The schedule is a standard cron
// expression (5 fields) or a descriptor like @every 1h.
func (s *Scheduler) AddJob(name, schedule string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(schedule, func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		s.logger.Debugw("cron fired", "job", name)
		if err := fn(ctx); err != nil {
			s.logger.Errorw("scheduled job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}

	s.jobs[name] = append(s.jobs[name], id)
	s.logger.Infow("job registered", "job", name, "schedule", schedule)
	return nil
}

// JobCount returns the total number of scheduled entries.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, ids := range s.jobs {
		total += len(ids)
	}
	return total
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ log *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
