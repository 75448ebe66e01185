// Package scheduler runs the terms refresh on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work. The context is cancelled when the
// scheduler stops.
type Job func(ctx context.Context)

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithLogger routes cron's own logging through zap.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunOnStart triggers one run as soon as Run is called, in addition to the
// scheduled ones.
func WithRunOnStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.runOnStart = enabled
	}
}

// Scheduler wraps robfig/cron. A run that is still going when the next tick
// fires causes that tick to be skipped.
type Scheduler struct {
	spec       string
	job        Job
	logger     *zap.Logger
	runOnStart bool

	cron    *cron.Cron
	entryID cron.EntryID

	ctx     context.Context
	running sync.WaitGroup
}

// New validates spec and registers job. Standard five-field specs and the
// @hourly/@every descriptors are accepted.
func New(spec string, job Job, opts ...Option) (*Scheduler, error) {
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	s := &Scheduler{spec: spec, job: job, logger: zap.NewNop(), ctx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}

	cronLog := zapLogger{s.logger.Sugar()}
	s.cron = cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	id, err := s.cron.AddFunc(spec, func() { s.job(s.ctx) })
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Next reports when the job fires next. Zero until Run has started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running job to return.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("spec", s.spec))

	if s.runOnStart {
		wrapped := s.cron.Entry(s.entryID).WrappedJob
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			wrapped.Run()
		}()
	}

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.running.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// zapLogger adapts zap to cron.Logger. cron's info chatter goes to debug.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func (l zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
