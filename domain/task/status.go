// Package task models the progress of long-running operations.
package task

import "time"

// ReportingState represents the state of task reporting.
type ReportingState string

// ReportingState values.
const (
	ReportingStateStarted    ReportingState = "started"
	ReportingStateInProgress ReportingState = "in_progress"
	ReportingStateCompleted  ReportingState = "completed"
	ReportingStateFailed     ReportingState = "failed"
	ReportingStateSkipped    ReportingState = "skipped"
)

// IsTerminal returns true if the state represents a terminal (final) state.
func (s ReportingState) IsTerminal() bool {
	return s == ReportingStateCompleted ||
		s == ReportingStateFailed ||
		s == ReportingStateSkipped
}

// Status is an immutable snapshot of an operation's progress.
type Status struct {
	operation    Operation
	subject      string
	state        ReportingState
	message      string
	startedAt    time.Time
	updatedAt    time.Time
	total        int
	current      int
	errorMessage string
}

// NewStatus creates a started Status. subject narrows the operation, for
// example to one input file, and may be empty.
func NewStatus(operation Operation, subject string) Status {
	now := time.Now().UTC()
	return Status{
		operation: operation,
		subject:   subject,
		state:     ReportingStateStarted,
		startedAt: now,
		updatedAt: now,
	}
}

// ID identifies the operation and subject, e.g. "vecmatch.load.sources:a.csv".
func (s Status) ID() string {
	if s.subject == "" {
		return string(s.operation)
	}
	return string(s.operation) + ":" + s.subject
}

// Operation returns the task operation.
func (s Status) Operation() Operation { return s.operation }

// Subject returns what the operation is working on.
func (s Status) Subject() string { return s.subject }

// State returns the current state.
func (s Status) State() ReportingState { return s.state }

// Message returns the status message.
func (s Status) Message() string { return s.message }

// StartedAt returns when the status was created.
func (s Status) StartedAt() time.Time { return s.startedAt }

// UpdatedAt returns when the status was last updated.
func (s Status) UpdatedAt() time.Time { return s.updatedAt }

// Elapsed returns the time between start and the last update.
func (s Status) Elapsed() time.Duration { return s.updatedAt.Sub(s.startedAt) }

// Total returns the total count for progress tracking.
func (s Status) Total() int { return s.total }

// Current returns the current count for progress tracking.
func (s Status) Current() int { return s.current }

// Error returns the error message if failed.
func (s Status) Error() string { return s.errorMessage }

// CompletionPercent returns progress in [0, 100].
func (s Status) CompletionPercent() float64 {
	if s.total == 0 {
		return 0.0
	}
	percent := float64(s.current) / float64(s.total) * 100.0
	switch {
	case percent < 0:
		return 0.0
	case percent > 100:
		return 100.0
	default:
		return percent
	}
}

// SetTotal sets the total count for progress tracking.
func (s Status) SetTotal(total int) Status {
	s.total = total
	s.updatedAt = time.Now().UTC()
	return s
}

// SetCurrent sets the current progress and optionally updates the message.
func (s Status) SetCurrent(current int, message string) Status {
	s.state = ReportingStateInProgress
	s.current = current
	if message != "" {
		s.message = message
	}
	s.updatedAt = time.Now().UTC()
	return s
}

// Skip marks the task as skipped with the given message.
func (s Status) Skip(message string) Status {
	s.state = ReportingStateSkipped
	s.message = message
	s.updatedAt = time.Now().UTC()
	return s
}

// Fail marks the task as failed with the given error message.
func (s Status) Fail(errorMsg string) Status {
	s.state = ReportingStateFailed
	s.errorMessage = errorMsg
	s.updatedAt = time.Now().UTC()
	return s
}

// Complete marks the task as completed with the given message.
// If already in a terminal state, no change is made.
func (s Status) Complete(message string) Status {
	if s.state.IsTerminal() {
		return s
	}
	s.state = ReportingStateCompleted
	if message != "" {
		s.message = message
	}
	s.updatedAt = time.Now().UTC()
	return s
}
