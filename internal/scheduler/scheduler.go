package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	billingdomain "github.com/smallbiznis/registry/internal/billing/domain"
	"github.com/smallbiznis/registry/internal/clock"
	"github.com/smallbiznis/registry/internal/events"
	obsmetrics "github.com/smallbiznis/registry/internal/observability/metrics"
	regdomain "github.com/smallbiznis/registry/internal/registration/domain"
	"github.com/smallbiznis/registry/internal/task"
	transferdomain "github.com/smallbiznis/registry/internal/transfer/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	JobDeferredTasks       = "deferred_tasks"
	JobTransferSweep       = "transfer_sweep"
	JobRecurrenceExpansion = "recurrence_expansion"
	JobOutboxDispatch      = "outbox_dispatch"
)

// maxBatchesPerRun bounds one job run so a single tick cannot starve the others.
const maxBatchesPerRun = 100

var ErrInvalidConfig = errors.New("scheduler: invalid config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Tasks      *task.Queue
	Domains    regdomain.Service
	Transfers  transferdomain.Service
	Billing    billingdomain.Service
	Dispatcher *events.Dispatcher
	Locker     Locker `optional:"true"`
	Config     Config `optional:"true"`
}

type Scheduler struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	tasks      *task.Queue
	domains    regdomain.Service
	transfers  transferdomain.Service
	billing    billingdomain.Service
	dispatcher *events.Dispatcher
	locker     Locker

	expansion     cron.Schedule
	mu            sync.Mutex
	nextExpansion time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Tasks == nil ||
		p.Domains == nil || p.Transfers == nil || p.Billing == nil || p.Dispatcher == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	schedule, err := cron.ParseStandard(cfg.ExpansionSpec)
	if err != nil {
		return nil, fmt.Errorf("%w: expansion schedule %q: %v", ErrInvalidConfig, cfg.ExpansionSpec, err)
	}
	return &Scheduler{
		db:         p.DB,
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		tasks:      p.Tasks,
		domains:    p.Domains,
		transfers:  p.Transfers,
		billing:    p.Billing,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
		expansion:  schedule,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()
	release, acquired := s.acquire(ctx, name)
	if !acquired {
		schedMetrics.IncJobLockSkipped(name)
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "locked"))
		return nil
	}
	defer release()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks up the remainder
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// acquire takes the job's advisory lock. Without a locker, or when the
// locker itself fails, the job runs unlocked.
func (s *Scheduler) acquire(ctx context.Context, job string) (func(), bool) {
	noop := func() {}
	if s.locker == nil {
		return noop, true
	}
	key := lockKey(job)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		s.logger(ctx).Warn("scheduler lock unavailable, running unlocked",
			zap.String("job", job),
			zap.Error(err),
		)
		return noop, true
	}
	if !ok {
		return noop, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("scheduler lock release failed", zap.String("job", job), zap.Error(err))
		}
	}, true
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context, *jobRun) error
	}{
		{JobDeferredTasks, s.isJobEnabled(JobDeferredTasks), s.DeferredTasksJob},
		{JobTransferSweep, s.isJobEnabled(JobTransferSweep), s.TransferSweepJob},
		{JobRecurrenceExpansion, s.isJobEnabled(JobRecurrenceExpansion) && s.expansionDue(s.clock.Now()), s.RecurrenceExpansionJob},
		{JobOutboxDispatch, s.isJobEnabled(JobOutboxDispatch), s.OutboxDispatchJob},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job (monolith mode)
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// expansionDue reports whether the expansion schedule has fired. The first
// run after start is always due so a restart catches up.
func (s *Scheduler) expansionDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(s.nextExpansion)
}

func (s *Scheduler) scheduleNextExpansion(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextExpansion = s.expansion.Next(now)
}
