package tracking

import (
	"context"
	"log/slog"
	"sync"

	"github.com/helixml/vecmatch/domain/task"
)

// Tracker holds the current Status of one operation and notifies
// subscribers of every change.
type Tracker struct {
	status      task.Status
	subscribers []Reporter
	logger      *slog.Logger
	mu          sync.RWMutex
}

// NewTracker creates a tracker for operation on subject.
func NewTracker(operation task.Operation, subject string, logger *slog.Logger, reporters ...Reporter) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		status:      task.NewStatus(operation, subject),
		subscribers: append([]Reporter(nil), reporters...),
		logger:      logger,
	}
}

// Status returns a copy of the current Status.
func (t *Tracker) Status() task.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Subscribe adds a reporter to receive status change notifications.
func (t *Tracker) Subscribe(reporter Reporter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, reporter)
}

// SetTotal sets the total count for progress tracking.
func (t *Tracker) SetTotal(ctx context.Context, total int) {
	t.update(ctx, func(s task.Status) task.Status { return s.SetTotal(total) })
}

// SetCurrent updates the current progress count and optionally a message.
func (t *Tracker) SetCurrent(ctx context.Context, current int, message string) {
	t.update(ctx, func(s task.Status) task.Status { return s.SetCurrent(current, message) })
}

// Skip marks the operation as skipped with a reason.
func (t *Tracker) Skip(ctx context.Context, reason string) {
	t.update(ctx, func(s task.Status) task.Status { return s.Skip(reason) })
}

// Fail marks the operation as failed with an error message.
func (t *Tracker) Fail(ctx context.Context, errMsg string) {
	t.update(ctx, func(s task.Status) task.Status { return s.Fail(errMsg) })
}

// Complete marks the operation as completed.
func (t *Tracker) Complete(ctx context.Context, message string) {
	t.update(ctx, func(s task.Status) task.Status { return s.Complete(message) })
}

// Notify announces the current status without changing it.
func (t *Tracker) Notify(ctx context.Context) {
	t.update(ctx, func(s task.Status) task.Status { return s })
}

func (t *Tracker) update(ctx context.Context, fn func(task.Status) task.Status) {
	t.mu.Lock()
	t.status = fn(t.status)
	status := t.status
	subscribers := make([]Reporter, len(t.subscribers))
	copy(subscribers, t.subscribers)
	t.mu.Unlock()

	for _, subscriber := range subscribers {
		if err := subscriber.OnChange(ctx, status); err != nil {
			// A failing reporter must not stop the others.
			t.logger.ErrorContext(ctx, "failed to notify subscriber",
				slog.String("error", err.Error()),
				slog.String("operation", status.Operation().String()),
			)
		}
	}
}
