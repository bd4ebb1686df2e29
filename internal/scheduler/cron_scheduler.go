// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"library-reservation/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// cronScheduler triggers tasks on their cron spec. A run that is still going when
// the next tick fires makes that tick skip.
type cronScheduler struct {
	cron    *cron.Cron
	mu      sync.Mutex
	tasks   map[string]cron.EntryID
	logger  *slog.Logger
	tracer  trace.Tracer
	timeout time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewCronScheduler creates a scheduler using six-field specs (seconds first).
// Each task run is bounded by timeout when it is positive.
func NewCronScheduler(logger *slog.Logger, timeout time.Duration) domain.Scheduler {
	logger = logger.With("component", "cron-scheduler")
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	runCtx, runCancel := context.WithCancel(context.Background())
	return &cronScheduler{
		cron:      c,
		tasks:     make(map[string]cron.EntryID),
		logger:    logger,
		tracer:    otel.Tracer("library-reservation-scheduler"),
		timeout:   timeout,
		runCtx:    runCtx,
		runCancel: runCancel,
	}
}

func (s *cronScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.runCtx.Err() != nil {
		s.runCtx, s.runCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")

	s.mu.Lock()
	s.runCancel()
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

// AddTask schedules task, replacing any task registered under the same name.
func (s *cronScheduler) AddTask(spec string, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[task.Name()]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &cronTaskWrapper{
		task:      task,
		scheduler: s,
		logger:    s.logger.With("task", task.Name()),
	}

	entryID, err := s.cron.AddJob(spec, wrapper)
	if err != nil {
		s.logger.Error("failed to add task to cron", "task", task.Name(), "error", err)
		return err
	}

	s.tasks[task.Name()] = entryID
	s.logger.Info("added task to scheduler", "task", task.Name(), "schedule", spec)
	return nil
}

// RemoveTask unschedules a task. Unknown names are ignored.
func (s *cronScheduler) RemoveTask(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", "task", name)
	}
	return nil
}

func (s *cronScheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

type cronTaskWrapper struct {
	task      domain.Task
	scheduler *cronScheduler
	logger    *slog.Logger
}

// Run is called by the cron library.
func (w *cronTaskWrapper) Run() {
	ctx := w.scheduler.runContext()
	if w.scheduler.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.scheduler.timeout)
		defer cancel()
	}

	// Each run is its own trace.
	ctx, span := w.scheduler.tracer.Start(ctx, "scheduler.Run",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("task.name", w.task.Name())),
	)
	defer span.End()

	start := time.Now()
	if err := w.task.Run(ctx); err != nil {
		w.logger.Error("task failed", "error", err, "duration", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "task failed")
		return
	}
	w.logger.Debug("task finished", "duration", time.Since(start))
}
