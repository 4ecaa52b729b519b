package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/auditcontext"
	"github.com/smallbiznis/contentgate/internal/clock"
	obsmetrics "github.com/smallbiznis/contentgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/contentgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const JobReconcileOrphanedUploads = "reconcile_orphaned_uploads"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	QuotaRepo quotadomain.Repository
	QuotaSvc  quotadomain.Service
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config                       `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	quotaRepo quotadomain.Repository
	quotaSvc  quotadomain.Service
	metrics   *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.QuotaRepo == nil || p.QuotaSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	schedMetrics := p.Metrics
	if schedMetrics == nil {
		schedMetrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     p.Clock,
		quotaRepo: p.QuotaRepo,
		quotaSvc:  p.QuotaSvc,
		metrics:   schedMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	s.metrics.IncJobError(name, err)
	// A timed-out run resumes from the same cursor on the next tick.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.metrics.IncJobTimeout(name)
		s.logger(ctx).Warn("job timed out",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobReconcileOrphanedUploads, s.ReconcileOrphanedUploadsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
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
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}

// ReconcileOrphanedUploadsJob releases upload units whose submission never
// committed. Only events older than OrphanAfter are considered, which keeps
// the job clear of uploads still inside their gate call.
func (s *Scheduler) ReconcileOrphanedUploadsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobReconcileOrphanedUploads, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	cutoff := s.clock.Now().Add(-s.cfg.OrphanAfter)
	orphans, err := s.quotaRepo.ListOrphanedUploads(ctx, s.db, cutoff, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.orphans.list_failed", JobReconcileOrphanedUploads, err)
		return err
	}

	released := 0
	for _, event := range orphans {
		if err := ctx.Err(); err != nil {
			s.metrics.AddBatchProcessed(JobReconcileOrphanedUploads, "usage_events", released)
			run.AddProcessed(released)
			return err
		}
		if err := s.quotaSvc.Release(ctx, event.ID, s.clock.Now()); err != nil {
			s.metrics.IncBatchDeferred(JobReconcileOrphanedUploads, obsmetrics.SchedulerBatchDeferredReasonReleaseFailed)
			s.logSchedulerError(ctx, run, "scheduler.orphans.release_failed", JobReconcileOrphanedUploads, err,
				zap.String("event_id", event.ID.String()),
			)
			continue
		}
		released++
		s.logOrphanReleased(ctx, event)
	}

	s.metrics.AddBatchProcessed(JobReconcileOrphanedUploads, "usage_events", released)
	run.AddProcessed(released)
	return nil
}
