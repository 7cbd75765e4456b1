package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"deckforge-backend/internal/errors"
)

// cronScheduler wraps the cron runner behind the processor's lifecycle.
type cronScheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func newCronScheduler(logger *zap.Logger) *cronScheduler {
	return &cronScheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

func (s *cronScheduler) start() {
	s.cron.Start()
}

// stop halts scheduling and waits for in-flight cron callbacks, bounded
// by the caller's context.
func (s *cronScheduler) stop(ctx context.Context) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		s.logger.Warn("timed out waiting for recurring jobs to stop")
	}
}

// ScheduleRecurring enqueues a job on a cron schedule. Standard five-field
// expressions and descriptors like "@every 6h" are accepted. The returned
// id removes the schedule via RemoveRecurring.
func (p *Processor) ScheduleRecurring(schedule, jobType string, payload any, opts ...EnqueueOption) (cron.EntryID, error) {
	p.mu.Lock()
	_, ok := p.queues[jobType]
	p.mu.Unlock()
	if !ok {
		return 0, errors.Validation(errors.CodeInvalidInput,
			fmt.Sprintf("no handler registered for job type %q", jobType)).Build()
	}

	id, err := p.cron.cron.AddFunc(schedule, func() {
		if _, err := p.Enqueue(context.Background(), jobType, payload, opts...); err != nil {
			p.logger.Error("failed to enqueue recurring job",
				zap.String("job_type", jobType),
				zap.String("schedule", schedule),
				zap.Error(err),
			)
		}
	})
	if err != nil {
		return 0, errors.JobProcessing(errors.CodeJobScheduleInvalid,
			fmt.Sprintf("invalid schedule %q", schedule), jobType, "").WithCause(err).Build()
	}

	p.logger.Info("recurring job scheduled",
		zap.String("job_type", jobType),
		zap.String("schedule", schedule),
		zap.Int("entry_id", int(id)),
	)
	return id, nil
}

// RemoveRecurring removes a recurring schedule.
func (p *Processor) RemoveRecurring(id cron.EntryID) {
	p.cron.cron.Remove(id)
}
