package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"deckforge-backend/internal/di"
	"deckforge-backend/internal/errors"
	"deckforge-backend/internal/infrastructure/observability"
)

// Config holds processor timing and retry settings.
type Config struct {
	// PollInterval is the dispatch tick period.
	PollInterval time.Duration
	// DefaultAttempts applies when Enqueue does not set WithAttempts.
	DefaultAttempts int
	// DefaultTimeout applies when Enqueue does not set WithJobTimeout.
	DefaultTimeout time.Duration
	// BackoffInitial is the delay before the first retry; each retry
	// doubles it up to BackoffMax.
	BackoffInitial time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
	// ShutdownGrace bounds how long Shutdown waits for active jobs.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		DefaultAttempts: 3,
		DefaultTimeout:  30 * time.Second,
		BackoffInitial:  time.Second,
		BackoffMax:      30 * time.Second,
		ShutdownGrace:   30 * time.Second,
	}
}

// queueState is the per-type queue. waiting is kept sorted by priority
// descending with enqueue order breaking ties.
type queueState struct {
	handler     HandlerFunc
	concurrency int
	waiting     []*Job
	delayed     []*Job
	active      int
	completed   int64
	failed      int64
	cancelled   int64
}

// QueueStats is a point-in-time summary of one job type's queue.
type QueueStats struct {
	Type        string `json:"type"`
	Concurrency int    `json:"concurrency"`
	Waiting     int    `json:"waiting"`
	Delayed     int    `json:"delayed"`
	Active      int    `json:"active"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	Cancelled   int64  `json:"cancelled"`
}

// Processor runs background jobs. A single dispatch loop promotes delayed
// jobs and hands waiting jobs to handler goroutines, respecting each
// type's concurrency limit. The loop is panic-protected and runs until
// Shutdown.
type Processor struct {
	mu       sync.Mutex
	config   Config
	queues   map[string]*queueState
	jobs     map[string]*Job
	seq      uint64
	running  bool
	stopped  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	wg sync.WaitGroup

	logger  *zap.Logger
	metrics *observability.Collector
	tracer  trace.Tracer

	cron *cronScheduler
}

// NewProcessor creates a job processor. The metrics collector is optional.
func NewProcessor(config Config, logger *zap.Logger, metrics *observability.Collector) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.DefaultAttempts <= 0 {
		config.DefaultAttempts = defaults.DefaultAttempts
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = defaults.DefaultTimeout
	}
	if config.BackoffInitial <= 0 {
		config.BackoffInitial = defaults.BackoffInitial
	}
	if config.BackoffMax <= 0 {
		config.BackoffMax = defaults.BackoffMax
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}

	return &Processor{
		config:   config,
		queues:   make(map[string]*queueState),
		jobs:     make(map[string]*Job),
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		logger:   logger,
		metrics:  metrics,
		tracer:   otel.Tracer("deckforge-backend/jobs"),
		cron:     newCronScheduler(logger),
	}
}

// RegisterHandler binds a handler to a job type and creates its queue.
// Concurrency below 1 is treated as 1.
func (p *Processor) RegisterHandler(jobType string, handler HandlerFunc, concurrency int) error {
	if jobType == "" {
		return errors.Validation(errors.CodeInvalidInput,
			"job type must not be empty").Build()
	}
	if handler == nil {
		return errors.Validation(errors.CodeInvalidInput,
			fmt.Sprintf("handler for job type %q must not be nil", jobType)).Build()
	}
	if concurrency < 1 {
		concurrency = 1
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.queues[jobType]; exists {
		return errors.Conflict(errors.CodeResourceExists,
			fmt.Sprintf("handler for job type %q is already registered", jobType)).Build()
	}
	p.queues[jobType] = &queueState{
		handler:     handler,
		concurrency: concurrency,
	}

	p.logger.Info("job handler registered",
		zap.String("job_type", jobType),
		zap.Int("concurrency", concurrency),
	)
	return nil
}

// Enqueue adds a job. The payload is JSON-encoded; raw bytes pass through
// unchanged. Jobs with a delay start out delayed and are promoted by the
// dispatch loop once due.
func (p *Processor) Enqueue(ctx context.Context, jobType string, payload any, opts ...EnqueueOption) (*Job, error) {
	o := enqueueOptions{
		attempts: p.config.DefaultAttempts,
		timeout:  p.config.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts < 1 {
		o.attempts = 1
	}
	if o.timeout <= 0 {
		o.timeout = p.config.DefaultTimeout
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return nil, errors.JobProcessing(errors.CodeJobInvalidPayload,
			"failed to encode job payload", jobType, "").WithCause(err).Build()
	}

	now := time.Now()
	job := &Job{
		ID:               uuid.NewString(),
		Type:             jobType,
		Payload:          raw,
		Priority:         o.priority,
		Attempts:         o.attempts,
		CreatedAt:        now,
		ScheduledAt:      now.Add(o.delay),
		timeout:          o.timeout,
		removeOnComplete: o.removeOnComplete,
		removeOnFail:     o.removeOnFail,
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, errors.NewError(errors.ErrorTypeJobProcessing, errors.CodeServiceUnavailable,
			"job processor is stopped").Build()
	}
	queue, ok := p.queues[jobType]
	if !ok {
		p.mu.Unlock()
		return nil, errors.Validation(errors.CodeInvalidInput,
			fmt.Sprintf("no handler registered for job type %q", jobType)).Build()
	}

	p.seq++
	job.seq = p.seq
	if o.delay > 0 {
		job.Status = StatusDelayed
		queue.delayed = append(queue.delayed, job)
	} else {
		job.Status = StatusWaiting
		queue.waiting = insertByPriority(queue.waiting, job)
	}
	p.jobs[job.ID] = job
	snapshot := *job
	p.mu.Unlock()

	p.logger.Info("job enqueued",
		zap.String("job_id", job.ID),
		zap.String("job_type", jobType),
		zap.String("status", string(snapshot.Status)),
		zap.Int("priority", job.Priority),
		zap.Duration("delay", o.delay),
	)
	p.countJob("jobs_enqueued_total", jobType)
	return &snapshot, nil
}

// GetJob returns a snapshot of a job.
func (p *Processor) GetJob(ctx context.Context, jobID string) (*Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return nil, errors.NotFound(errors.CodeResourceNotFound,
			fmt.Sprintf("job %q not found", jobID)).WithResource("job").Build()
	}
	snapshot := *job
	return &snapshot, nil
}

// ListJobs returns snapshots of jobs for a type, optionally filtered by
// status. Pass an empty status to list all.
func (p *Processor) ListJobs(jobType string, status Status) []Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Job, 0)
	for _, job := range p.jobs {
		if job.Type != jobType {
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Cancel cancels a waiting or delayed job. Active and finished jobs
// cannot be cancelled.
func (p *Processor) Cancel(ctx context.Context, jobID string) error {
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if !ok {
		p.mu.Unlock()
		return errors.NotFound(errors.CodeResourceNotFound,
			fmt.Sprintf("job %q not found", jobID)).WithResource("job").Build()
	}
	if job.Status != StatusWaiting && job.Status != StatusDelayed {
		status := job.Status
		p.mu.Unlock()
		return errors.Conflict(errors.CodeJobCancelled,
			fmt.Sprintf("cannot cancel job in status %q", status)).Build()
	}

	queue := p.queues[job.Type]
	queue.waiting = removeJob(queue.waiting, job.ID)
	queue.delayed = removeJob(queue.delayed, job.ID)
	queue.cancelled++
	queue.failed++

	// A cancelled job lands in failed; cancellation is recorded as the
	// failure reason rather than a separate terminal state.
	now := time.Now()
	job.Status = StatusFailed
	job.FailedReason = "cancelled"
	job.CompletedAt = &now
	p.mu.Unlock()

	p.logger.Info("job cancelled",
		zap.String("job_id", jobID),
		zap.String("job_type", job.Type),
	)
	p.countJob("jobs_cancelled_total", job.Type)
	return nil
}

// Stats returns per-type queue summaries.
func (p *Processor) Stats() map[string]QueueStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]QueueStats, len(p.queues))
	for jobType, queue := range p.queues {
		out[jobType] = QueueStats{
			Type:        jobType,
			Concurrency: queue.concurrency,
			Waiting:     len(queue.waiting),
			Delayed:     len(queue.delayed),
			Active:      queue.active,
			Completed:   queue.completed,
			Failed:      queue.failed,
			Cancelled:   queue.cancelled,
		}
	}
	return out
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// Initialize starts the dispatch loop and the recurring-job scheduler.
func (p *Processor) Initialize(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	go p.run()
	p.cron.start()

	p.logger.Info("job processor started",
		zap.Duration("poll_interval", p.config.PollInterval),
	)
	return nil
}

// Shutdown stops dispatching and waits up to the configured grace period
// for active jobs to finish. Jobs still running after the grace period
// keep their attempt timeouts but are no longer tracked for draining.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.stopped = true
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	<-p.loopDone
	p.cron.stop(ctx)

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.logger.Info("job processor drained")
	case <-time.After(p.config.ShutdownGrace):
		p.logger.Warn("job processor shutdown grace elapsed with active jobs",
			zap.Duration("grace", p.config.ShutdownGrace),
		)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// HealthCheck reports queue occupancy and loop liveness. The processor is
// unhealthy when the dispatch loop is down and degraded when permanent
// failures outnumber completions.
func (p *Processor) HealthCheck(ctx context.Context) di.HealthStatus {
	p.mu.Lock()
	running := p.running
	queues := len(p.queues)
	var active, pending int
	var completed, failed int64
	for _, queue := range p.queues {
		active += queue.active
		pending += len(queue.waiting) + len(queue.delayed)
		completed += queue.completed
		failed += queue.failed
	}
	p.mu.Unlock()

	var status di.HealthStatus
	switch {
	case !running:
		status = di.Unhealthy("dispatch loop is not running")
	case failed > 0 && failed > completed:
		status = di.Degraded(fmt.Sprintf("failures outnumber completions: %d failed, %d completed", failed, completed))
	default:
		status = di.Healthy(fmt.Sprintf("%d queues, %d active, %d pending", queues, active, pending))
	}
	status.Metrics = map[string]float64{
		"queues":    float64(queues),
		"active":    float64(active),
		"pending":   float64(pending),
		"completed": float64(completed),
		"failed":    float64(failed),
	}
	return status
}

// ============================================================================
// DISPATCH LOOP
// ============================================================================

func (p *Processor) run() {
	defer close(p.loopDone)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// tick promotes due delayed jobs and dispatches waiting jobs. It recovers
// panics so a bad tick never kills the loop.
func (p *Processor) tick() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job dispatch tick panicked", zap.Any("panic", r))
		}
	}()
	p.promoteDelayed()
	p.dispatch()
}

func (p *Processor) promoteDelayed() {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, queue := range p.queues {
		if len(queue.delayed) == 0 {
			continue
		}
		still := queue.delayed[:0]
		for _, job := range queue.delayed {
			if job.ScheduledAt.After(now) {
				still = append(still, job)
				continue
			}
			job.Status = StatusWaiting
			queue.waiting = insertByPriority(queue.waiting, job)
		}
		queue.delayed = still
	}
}

func (p *Processor) dispatch() {
	type dispatchItem struct {
		job     *Job
		handler HandlerFunc
	}
	var items []dispatchItem

	p.mu.Lock()
	for _, queue := range p.queues {
		for queue.active < queue.concurrency && len(queue.waiting) > 0 {
			job := queue.waiting[0]
			queue.waiting = queue.waiting[1:]

			now := time.Now()
			job.Status = StatusActive
			job.StartedAt = &now
			job.AttemptCount++
			queue.active++

			items = append(items, dispatchItem{job: job, handler: queue.handler})
		}
	}
	p.mu.Unlock()

	for _, item := range items {
		p.wg.Add(1)
		go p.execute(item.job, item.handler)
	}
}

type execResult struct {
	out json.RawMessage
	err error
}

// execute runs one attempt, racing the handler against its timeout. The
// handler goroutine keeps its context so a timed-out handler can still
// observe cancellation and stop.
func (p *Processor) execute(job *Job, handler HandlerFunc) {
	defer p.wg.Done()

	p.mu.Lock()
	jobID, jobType, attempt, maxAttempts := job.ID, job.Type, job.AttemptCount, job.Attempts
	payload := job.Payload
	timeout := job.timeout
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "jobs.execute",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("job.type", jobType),
			attribute.Int("job.attempt", attempt),
		))
	defer span.End()

	jobLogger := p.logger.With(
		zap.String("job_id", jobID),
		zap.String("job_type", jobType),
		zap.Int("attempt", attempt),
	)
	jc := &JobContext{
		processor: p,
		jobID:     jobID,
		jobType:   jobType,
		payload:   payload,
		attempt:   attempt,
		logger:    jobLogger,
	}

	var timer *observability.Timer
	if p.metrics != nil {
		timer = p.metrics.StartTimer("job_duration_seconds")
	}

	resultCh := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- execResult{err: errors.JobProcessing(errors.CodeJobHandlerFailed,
					fmt.Sprintf("handler panicked: %v", r), jobType, jobID).Build()}
			}
		}()
		out, err := handler(ctx, jc)
		resultCh <- execResult{out: out, err: err}
	}()

	var res execResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		res = execResult{err: errors.Timeout(errors.CodeJobTimeout,
			fmt.Sprintf("job timed out after %s", timeout)).WithJob(jobType, jobID).Build()}
	}

	if timer != nil {
		timer.Stop(map[string]string{"job_type": jobType})
	}

	if res.err != nil {
		span.RecordError(res.err)
		p.handleFailure(job, jobLogger, res.err, attempt, maxAttempts)
		return
	}
	p.handleSuccess(job, jobLogger, res.out)
}

func (p *Processor) handleSuccess(job *Job, jobLogger *zap.Logger, result json.RawMessage) {
	now := time.Now()

	p.mu.Lock()
	queue := p.queues[job.Type]
	queue.active--
	queue.completed++

	job.Status = StatusCompleted
	job.Progress = 100
	job.Result = result
	job.CompletedAt = &now
	job.LastError = ""
	startedAt := *job.StartedAt
	if job.removeOnComplete {
		delete(p.jobs, job.ID)
	}
	p.mu.Unlock()

	jobLogger.Info("job completed",
		zap.Duration("duration", now.Sub(startedAt)),
	)
	p.countJob("jobs_completed_total", job.Type)
}

func (p *Processor) handleFailure(job *Job, jobLogger *zap.Logger, jobErr error, attempt, maxAttempts int) {
	now := time.Now()

	if attempt < maxAttempts {
		delay := retryDelay(p.config.BackoffInitial, p.config.BackoffMax, attempt)

		p.mu.Lock()
		queue := p.queues[job.Type]
		queue.active--

		job.Status = StatusDelayed
		job.LastError = jobErr.Error()
		job.ScheduledAt = now.Add(delay)
		queue.delayed = append(queue.delayed, job)
		p.mu.Unlock()

		jobLogger.Warn("job failed, scheduling retry",
			zap.Error(jobErr),
			zap.Duration("backoff", delay),
			zap.Int("remaining_attempts", maxAttempts-attempt),
		)
		p.countJob("jobs_retried_total", job.Type)
		return
	}

	p.mu.Lock()
	queue := p.queues[job.Type]
	queue.active--
	queue.failed++

	job.Status = StatusFailed
	job.LastError = jobErr.Error()
	job.FailedReason = jobErr.Error()
	job.CompletedAt = &now
	if job.removeOnFail {
		delete(p.jobs, job.ID)
	}
	p.mu.Unlock()

	jobLogger.Error("job failed permanently",
		zap.Error(jobErr),
		zap.Int("attempts", attempt),
	)
	p.countJob("jobs_failed_total", job.Type)
}

// updateProgress is called through JobContext while a handler runs.
func (p *Processor) updateProgress(jobID string, progress int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return errors.NotFound(errors.CodeResourceNotFound,
			fmt.Sprintf("job %q not found", jobID)).WithResource("job").Build()
	}
	if job.Status != StatusActive {
		return errors.Conflict(errors.CodeJobInvalidProgress,
			fmt.Sprintf("cannot report progress for job in status %q", job.Status)).Build()
	}
	job.Progress = progress
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

// retryDelay computes the backoff before retry n (1-based): the initial
// interval doubled per prior attempt, capped at max.
func retryDelay(initial, max time.Duration, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = max

	delay := initial
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// insertByPriority inserts into a slice ordered by priority descending,
// then enqueue sequence ascending.
func insertByPriority(queue []*Job, job *Job) []*Job {
	idx := sort.Search(len(queue), func(i int) bool {
		if queue[i].Priority != job.Priority {
			return queue[i].Priority < job.Priority
		}
		return queue[i].seq > job.seq
	})
	queue = append(queue, nil)
	copy(queue[idx+1:], queue[idx:])
	queue[idx] = job
	return queue
}

func removeJob(queue []*Job, jobID string) []*Job {
	out := queue[:0]
	for _, job := range queue {
		if job.ID != jobID {
			out = append(out, job)
		}
	}
	return out
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(payload)
	}
}

func (p *Processor) countJob(name, jobType string) {
	if p.metrics == nil {
		return
	}
	p.metrics.IncrementCounter(name, map[string]string{"job_type": jobType})
}
