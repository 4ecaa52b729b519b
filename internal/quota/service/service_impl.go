package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/observability/metrics"
	"github.com/smallbiznis/contentgate/internal/quota/domain"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/smallbiznis/contentgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errCounterUnderflow = errors.New("quota counter underflow")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Policy   tier.Policy
	Clock    clock.Clock
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	policy   tier.Policy
	clock    clock.Clock
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quota.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		policy:   p.Policy,
		clock:    p.Clock,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) RecordAndCheck(ctx context.Context, req domain.RecordRequest) (domain.Result, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return domain.Result{}, domain.ErrInvalidUserID
	}
	if !req.Action.Valid() {
		return domain.Result{}, tier.ErrInvalidAction
	}

	now := req.Now
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()
	period := domain.PeriodFor(now)

	limit, err := s.policy.Limit(req.Tier, req.Action)
	if err != nil {
		s.metrics.RecordQuotaDecision(ctx, string(req.Action), string(req.Tier), metrics.OutcomeError)
		return domain.Result{}, err
	}

	result := domain.Result{
		Limit:       limit,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
	}
	key := domain.CounterKey{UserID: userID, Action: req.Action, PeriodKey: period.Key}
	event := domain.UsageEvent{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Action:     string(req.Action),
		ResourceID: strings.TrimSpace(req.ResourceID),
		PeriodKey:  period.Key,
		OccurredAt: now,
	}

	allowed := false
	err = db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		allowed = false
		if err := s.repo.EnsureCounter(ctx, tx, key, period.Start, now); err != nil {
			return err
		}

		if limit.Unbounded {
			if err := s.repo.Increment(ctx, tx, key, now); err != nil {
				return err
			}
		} else {
			ok, err := s.repo.IncrementBelow(ctx, tx, key, limit.Max, now)
			if err != nil {
				return err
			}
			if !ok {
				used, err := s.repo.Used(ctx, tx, key)
				if err != nil {
					return err
				}
				result.Used = used
				return nil
			}
		}

		if err := s.repo.InsertEvent(ctx, tx, &event); err != nil {
			return err
		}
		used, err := s.repo.Used(ctx, tx, key)
		if err != nil {
			return err
		}
		result.Used = used
		allowed = true
		return nil
	})
	if err != nil {
		s.metrics.RecordQuotaDecision(ctx, string(req.Action), string(req.Tier), metrics.OutcomeError)
		s.log.Warn("quota check failed closed",
			zap.String("user_id", userID),
			zap.String("action", string(req.Action)),
			zap.String("reason", db.ClassifyError(err)),
			zap.Error(err),
		)
		return domain.Result{
			Limit:       limit,
			PeriodStart: period.Start,
			PeriodEnd:   period.End,
		}, db.WrapUnavailable(err)
	}

	result.Allowed = allowed
	result.Remaining = limit.Remaining(result.Used)
	if allowed {
		result.EventID = event.ID
		s.metrics.RecordQuotaDecision(ctx, string(req.Action), string(req.Tier), metrics.OutcomeAllowed)
	} else {
		s.metrics.RecordQuotaDecision(ctx, string(req.Action), string(req.Tier), metrics.OutcomeDenied)
	}
	return result, nil
}

func (s *Service) Release(ctx context.Context, eventID snowflake.ID, now time.Time) error {
	if eventID == 0 {
		return domain.ErrInvalidEvent
	}
	if now.IsZero() {
		now = s.clock.Now()
	}
	now = now.UTC()

	var (
		released bool
		target   domain.UsageEvent
	)
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		released = false
		event, err := s.repo.FindEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event == nil {
			return domain.ErrEventNotFound
		}
		if event.IsReversal() {
			return domain.ErrInvalidEvent
		}
		target = *event

		reverses := event.ID
		reversal := domain.UsageEvent{
			ID:              s.genID.Generate(),
			UserID:          event.UserID,
			Action:          event.Action,
			ResourceID:      event.ResourceID,
			PeriodKey:       event.PeriodKey,
			ReversesEventID: &reverses,
			OccurredAt:      now,
		}
		inserted, err := s.repo.InsertReversal(ctx, tx, &reversal)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		key := domain.CounterKey{
			UserID:    event.UserID,
			Action:    tier.Action(event.Action),
			PeriodKey: event.PeriodKey,
		}
		ok, err := s.repo.Decrement(ctx, tx, key, now)
		if err != nil {
			return err
		}
		if !ok {
			return errCounterUnderflow
		}
		released = true
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) || errors.Is(err, domain.ErrInvalidEvent) {
			return err
		}
		s.log.Error("quota release failed",
			zap.String("event_id", eventID.String()),
			zap.String("reason", db.ClassifyError(err)),
			zap.Error(err),
		)
		return db.WrapUnavailable(err)
	}
	if !released {
		return nil
	}

	s.log.Info("quota released",
		zap.String("event_id", target.ID.String()),
		zap.String("user_id", target.UserID),
		zap.String("action", target.Action),
		zap.String("period", target.PeriodKey),
	)
	if s.auditSvc != nil {
		targetID := target.ID.String()
		if err := s.auditSvc.AuditLog(ctx, "", nil, auditdomain.ActionQuotaCompensated, auditdomain.TargetTypeUsageEvent, &targetID, map[string]any{
			"user_id":     target.UserID,
			"action":      target.Action,
			"period":      target.PeriodKey,
			"resource_id": target.ResourceID,
		}); err != nil {
			s.log.Warn("audit write failed",
				zap.String("action", auditdomain.ActionQuotaCompensated),
				zap.String("event_id", targetID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *Service) Usage(ctx context.Context, userID string, t tier.Tier, now time.Time) (domain.Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Summary{}, domain.ErrInvalidUserID
	}
	if !t.Valid() {
		t = tier.Free
	}
	if now.IsZero() {
		now = s.clock.Now()
	}
	period := domain.PeriodFor(now)

	summary := domain.Summary{
		UserID:      userID,
		Tier:        t,
		PeriodKey:   period.Key,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Actions:     make([]domain.ActionUsage, 0, 2),
	}
	for _, action := range []tier.Action{tier.ActionUpload, tier.ActionDownload} {
		limit, err := s.policy.Limit(t, action)
		if err != nil {
			return domain.Summary{}, err
		}
		used, err := s.repo.Used(ctx, s.db, domain.CounterKey{UserID: userID, Action: action, PeriodKey: period.Key})
		if err != nil {
			return domain.Summary{}, db.WrapUnavailable(err)
		}
		usage := domain.ActionUsage{
			Action:    action,
			Used:      used,
			Limit:     limit,
			Unlimited: limit.Unbounded,
		}
		if !limit.Unbounded {
			remaining := limit.Remaining(used)
			usage.Remaining = &remaining
		}
		summary.Actions = append(summary.Actions, usage)
	}
	return summary, nil
}
