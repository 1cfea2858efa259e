// Package scheduler runs the engine's periodic maintenance jobs.
//
// It is a minimal ticker-plus-cancellation abstraction: each task runs on its
// own interval in its own goroutine, so a slow or failing job never blocks
// the others or ingestion. Tasks must be idempotent and safe to skip.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic job.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string

	// Interval is the time between runs.
	Interval time.Duration

	// Run executes one pass. Errors are logged, never fatal.
	Run func(ctx context.Context) error
}

// Scheduler manages the lifecycle of a set of periodic tasks.
//
// Shutdown is cooperative: Stop signals every task loop, lets in-flight
// passes finish, and waits for the goroutines to exit.
type Scheduler struct {
	tasks  []Task
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler for the given tasks.
func New(tasks []Task, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, t := range tasks {
		if t.Name == "" || t.Run == nil {
			return nil, fmt.Errorf("task requires a name and a run function")
		}
		if t.Interval <= 0 {
			return nil, fmt.Errorf("task %s: interval must be positive", t.Name)
		}
	}
	return &Scheduler{tasks: tasks, logger: logger.Named("scheduler")}, nil
}

// Start launches one goroutine per task. Calling Start on a running
// scheduler returns an error without launching anything.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.run(ctx, task)
	}

	s.logger.Info("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

// Stop signals all task loops and waits for in-flight passes to finish.
// Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// run is a single task loop.
func (s *Scheduler) run(ctx context.Context, task Task) {
	defer s.wg.Done()

	logger := s.logger.With(zap.String("task", task.Name))
	logger.Debug("task loop started", zap.Duration("interval", task.Interval))
	defer logger.Debug("task loop stopped")

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.safeRun(ctx, task, logger)
		case <-ctx.Done():
			return
		}
	}
}

// safeRun executes one pass with panic recovery so a single bad record can
// never take down the loop.
func (s *Scheduler) safeRun(ctx context.Context, task Task, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked, continuing",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		logger.Error("task run failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("task run complete", zap.Duration("duration", time.Since(start)))
}
