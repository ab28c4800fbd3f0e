package agent

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gal-Doron/Baragon-test-8/pkg/observability"
)

// Task is a periodic task body. Returned errors are logged and never
// disable subsequent invocations.
type Task func(ctx context.Context) error

// TaskHandle cancels a scheduled task. Cancel is idempotent and interrupts
// an in-flight invocation via context cancellation.
type TaskHandle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Cancel stops the task and waits for any in-flight invocation to return.
func (h *TaskHandle) Cancel() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

// PeriodicScheduler runs tasks at a fixed rate. The period is measured from
// each invocation's scheduled start; a slow invocation delays but never
// overlaps the next one.
type PeriodicScheduler struct {
	logger *zap.Logger
}

// NewPeriodicScheduler creates a scheduler.
func NewPeriodicScheduler(logger *zap.Logger) *PeriodicScheduler {
	return &PeriodicScheduler{logger: logger}
}

// Schedule runs task every period after an initial delay of initialDelay
// (zero means an immediate first run) and returns its cancellation handle.
func (s *PeriodicScheduler) Schedule(name string, task Task, initialDelay, period time.Duration) *TaskHandle {
	ctx, cancel := context.WithCancel(context.Background())
	handle := &TaskHandle{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(handle.done)

		if initialDelay > 0 {
			timer := time.NewTimer(initialDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}

		// The ticker starts before the first invocation so the period is
		// measured from each run's scheduled start, not from its return.
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		s.runOnce(ctx, name, task)

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx, name, task)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.logger.Info("Scheduled periodic task",
		zap.String("task", name),
		zap.Duration("initial_delay", initialDelay),
		zap.Duration("period", period),
	)
	return handle
}

// runOnce invokes the task body behind a catch-log-continue boundary.
// A panicking or failing task must never disable its future executions.
func (s *PeriodicScheduler) runOnce(ctx context.Context, name string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			observability.TaskRunsTotal.WithLabelValues(name, "failure").Inc()
			s.logger.Error("Periodic task panicked",
				zap.String("task", name),
				zap.Any("panic", r),
			)
		}
	}()

	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := task(ctx)
	observability.TaskDurationSeconds.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		observability.TaskRunsTotal.WithLabelValues(name, "failure").Inc()
		s.logger.Warn("Periodic task failed",
			zap.String("task", name),
			zap.Error(err),
		)
		return
	}
	observability.TaskRunsTotal.WithLabelValues(name, "success").Inc()
}
