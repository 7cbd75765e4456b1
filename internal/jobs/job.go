// Package jobs implements the background job processor: per-type priority
// queues with bounded concurrency, delayed scheduling, exponential retry
// backoff, and cron-style recurring jobs.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"deckforge-backend/internal/errors"
)

// Status is a job's lifecycle state. Transitions only move forward:
// delayed -> waiting -> active -> completed | failed, with active moving
// back to delayed for a retry. Cancellation is a failure with the reason
// "cancelled", not a state of its own.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusDelayed   Status = "delayed"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of background work.
type Job struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Attempts     int             `json:"attempts"`
	AttemptCount int             `json:"attempt_count"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`

	// seq breaks priority ties: lower values were enqueued earlier.
	seq uint64

	timeout          time.Duration
	removeOnComplete bool
	removeOnFail     bool
}

// HandlerFunc processes one job attempt. The returned bytes are stored as
// the job's result. The context carries the attempt timeout; handlers
// should honor its cancellation.
type HandlerFunc func(ctx context.Context, job *JobContext) (json.RawMessage, error)

// enqueueOptions carries per-job settings resolved from EnqueueOption
// values.
type enqueueOptions struct {
	priority         int
	delay            time.Duration
	attempts         int
	timeout          time.Duration
	removeOnComplete bool
	removeOnFail     bool
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

// WithPriority sets the job's priority. Higher priorities dispatch first;
// equal priorities dispatch in enqueue order.
func WithPriority(priority int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithDelay holds the job for the given duration before it becomes
// eligible to run.
func WithDelay(delay time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = delay
	}
}

// WithAttempts sets the maximum number of attempts including the first.
func WithAttempts(attempts int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.attempts = attempts
	}
}

// WithJobTimeout bounds each attempt's execution time.
func WithJobTimeout(timeout time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.timeout = timeout
	}
}

// WithRemoveOnComplete drops the job record once it completes.
func WithRemoveOnComplete() EnqueueOption {
	return func(o *enqueueOptions) {
		o.removeOnComplete = true
	}
}

// WithRemoveOnFail drops the job record once it permanently fails.
func WithRemoveOnFail() EnqueueOption {
	return func(o *enqueueOptions) {
		o.removeOnFail = true
	}
}

// JobContext is the handler's view of the running job: payload access,
// progress reporting, and a logger scoped to the job.
type JobContext struct {
	processor *Processor
	jobID     string
	jobType   string
	payload   json.RawMessage
	attempt   int
	logger    *zap.Logger
}

// JobID returns the job's identifier.
func (jc *JobContext) JobID() string {
	return jc.jobID
}

// Type returns the job's type.
func (jc *JobContext) Type() string {
	return jc.jobType
}

// Attempt returns the current attempt number, starting at 1.
func (jc *JobContext) Attempt() int {
	return jc.attempt
}

// Payload returns the raw job payload.
func (jc *JobContext) Payload() json.RawMessage {
	return jc.payload
}

// Bind unmarshals the payload into v.
func (jc *JobContext) Bind(v any) error {
	if err := json.Unmarshal(jc.payload, v); err != nil {
		return errors.JobProcessing(errors.CodeJobInvalidPayload,
			"failed to decode job payload", jc.jobType, jc.jobID).WithCause(err).Build()
	}
	return nil
}

// Logger returns a logger carrying the job's id, type, and attempt.
func (jc *JobContext) Logger() *zap.Logger {
	return jc.logger
}

// ReportProgress records completion progress between 0 and 100. It fails
// if the job is no longer active.
func (jc *JobContext) ReportProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return errors.JobProcessing(errors.CodeJobInvalidProgress,
			fmt.Sprintf("progress must be between 0 and 100, got %d", progress),
			jc.jobType, jc.jobID).Build()
	}
	return jc.processor.updateProgress(jc.jobID, progress)
}
