package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	obsmetrics "github.com/smallbiznis/registry/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DeferredTasksJob runs due deferred tasks, such as transfer deadlines,
// until none remain.
func (s *Scheduler) DeferredTasksJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	for range maxBatchesPerRun {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		processed, err := s.tasks.RunDue(ctx, now, s.cfg.BatchSize)
		run.AddProcessed(processed)
		obsmetrics.Scheduler().AddBatchProcessed(JobDeferredTasks, obsmetrics.ResourceDeferredTasks, processed)
		if err != nil {
			return err
		}
		if processed < s.cfg.BatchSize {
			return nil
		}
	}
	return nil
}

// TransferSweepJob resolves pending transfers whose deadline has passed.
// It covers transfers whose deferred task was lost or failed for good.
func (s *Scheduler) TransferSweepJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	ids, err := s.domains.DueTransfers(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, id := range ids {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		var approved bool
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			approved, err = s.transfers.ResolveDue(ctx, tx, id, now)
			return err
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.transfer.resolve_failed", JobTransferSweep, err,
				zap.String("domain_id", idString(id)),
			)
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if approved {
			run.AddProcessed(1)
			obsmetrics.Scheduler().AddBatchProcessed(JobTransferSweep, obsmetrics.ResourceTransfers, 1)
			s.logger(ctx).Info("transfer.server_approved",
				zap.String("job", JobTransferSweep),
				zap.String("domain_id", idString(id)),
			)
		}
	}
	return jobErr
}

// RecurrenceExpansionJob materializes elapsed autorenew occurrences.
// The next expansion is scheduled only after a clean pass.
func (s *Scheduler) RecurrenceExpansionJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	for range maxBatchesPerRun {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		batch, err := s.billing.ExpandRecurrences(ctx, now, s.cfg.BatchSize)
		if err != nil {
			return err
		}
		run.AddProcessed(batch.Written)
		obsmetrics.Scheduler().AddBatchProcessed(JobRecurrenceExpansion, obsmetrics.ResourceRecurrences, batch.Claimed)
		if batch.Claimed < s.cfg.BatchSize {
			s.scheduleNextExpansion(now)
			return nil
		}
	}
	return nil
}

// OutboxDispatchJob publishes committed outbox events.
func (s *Scheduler) OutboxDispatchJob(ctx context.Context, run *jobRun) error {
	for range maxBatchesPerRun {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		published, err := s.dispatcher.DispatchPending(ctx, s.cfg.BatchSize)
		run.AddProcessed(published)
		obsmetrics.Scheduler().AddBatchProcessed(JobOutboxDispatch, obsmetrics.ResourceOutboxEvents, published)
		if err != nil {
			return err
		}
		if published < s.cfg.BatchSize {
			return nil
		}
	}
	return nil
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}
