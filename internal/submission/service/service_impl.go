package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/identity"
	"github.com/smallbiznis/contentgate/internal/observability/metrics"
	"github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Authz    authorization.Service
	Clock    clock.Clock
	Metrics  *metrics.Metrics    `optional:"true"`
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	authz    authorization.Service
	clock    clock.Clock
	metrics  *metrics.Metrics
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("submission.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		authz:    p.Authz,
		clock:    p.Clock,
		metrics:  p.Metrics,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Submission, error) {
	ownerID := strings.TrimSpace(req.OwnerID)
	if ownerID == "" {
		return nil, domain.ErrInvalidOwner
	}
	kind, err := domain.ParseKind(string(req.Kind))
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == 0 {
		id = s.genID.Generate()
	}
	now := s.clock.Now().UTC()
	submission := &domain.Submission{
		ID:          id,
		Kind:        kind,
		OwnerID:     ownerID,
		Status:      domain.StatusPending,
		ResourceRef: strings.TrimSpace(req.ResourceRef),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, submission); err != nil {
			return err
		}
		return s.repo.InsertHistory(ctx, tx, &domain.StatusHistory{
			ID:           s.genID.Generate(),
			SubmissionID: submission.ID,
			ToStatus:     domain.StatusPending,
			Event:        domain.EventCreate,
			ActorID:      ownerID,
			CreatedAt:    now,
		})
	})
	if err != nil {
		s.metrics.RecordTransition(ctx, string(domain.EventCreate), metrics.OutcomeError)
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrAlreadyExists
		}
		return nil, db.WrapUnavailable(err)
	}

	s.metrics.RecordTransition(ctx, string(domain.EventCreate), metrics.OutcomeApplied)
	s.log.Info("submission created",
		zap.String("submission_id", submission.ID.String()),
		zap.String("owner_id", ownerID),
		zap.String("kind", string(kind)),
	)
	return submission, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Submission, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}
	submission, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.WrapUnavailable(err)
	}
	if submission == nil || submission.Removed() {
		return nil, domain.ErrNotFound
	}
	return submission, nil
}

// View hides unapproved submissions from everyone but their owner and admins.
func (s *Service) View(ctx context.Context, caller identity.Caller, id snowflake.ID) (*domain.Submission, error) {
	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.Status == domain.StatusApproved || submission.OwnerID == caller.UserID || caller.IsAdmin() {
		return submission, nil
	}
	return nil, domain.ErrNotFound
}

func (s *Service) Approve(ctx context.Context, caller identity.Caller, id snowflake.ID) (*domain.Submission, error) {
	if err := s.authorize(ctx, caller, authorization.ActionSubmissionApprove); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, func(current *domain.Submission) (domain.Event, *string, error) {
		return domain.EventApprove, nil, nil
	})
}

func (s *Service) Reject(ctx context.Context, caller identity.Caller, req domain.RejectRequest) (*domain.Submission, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrReasonRequired
	}
	if err := s.authorize(ctx, caller, authorization.ActionSubmissionReject); err != nil {
		return nil, err
	}
	if req.Override {
		if err := s.authorize(ctx, caller, authorization.ActionSubmissionUnpublish); err != nil {
			return nil, err
		}
	}
	return s.transition(ctx, caller, req.ID, func(current *domain.Submission) (domain.Event, *string, error) {
		if req.Override && current.Status == domain.StatusApproved {
			return domain.EventUnpublish, &reason, nil
		}
		return domain.EventReject, &reason, nil
	})
}

func (s *Service) Resubmit(ctx context.Context, caller identity.Caller, id snowflake.ID) (*domain.Submission, error) {
	if err := s.authorize(ctx, caller, authorization.ActionSubmissionResubmit); err != nil {
		return nil, err
	}
	return s.transition(ctx, caller, id, func(current *domain.Submission) (domain.Event, *string, error) {
		if current.OwnerID != caller.UserID {
			return "", nil, authorization.ErrForbidden
		}
		return domain.EventResubmit, nil, nil
	})
}

func (s *Service) Remove(ctx context.Context, caller identity.Caller, id snowflake.ID, reason string) error {
	if id == 0 {
		return domain.ErrInvalidID
	}
	if err := s.authorize(ctx, caller, authorization.ActionSubmissionRemove); err != nil {
		return err
	}

	removed, err := s.repo.MarkRemoved(ctx, s.db, id, caller.UserID, s.clock.Now().UTC())
	if err != nil {
		return db.WrapUnavailable(err)
	}
	if !removed {
		return domain.ErrNotFound
	}

	s.log.Info("submission removed",
		zap.String("submission_id", id.String()),
		zap.String("actor_id", caller.UserID),
	)
	s.audit(ctx, caller, auditdomain.ActionSubmissionRemove, id, map[string]any{
		"reason": strings.TrimSpace(reason),
	})
	return nil
}

func (s *Service) History(ctx context.Context, caller identity.Caller, id snowflake.ID) ([]domain.StatusHistory, error) {
	submission, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if submission.OwnerID != caller.UserID {
		if err := s.authorize(ctx, caller, authorization.ActionSubmissionHistory); err != nil {
			return nil, err
		}
	}
	history, err := s.repo.ListHistory(ctx, s.db, id)
	if err != nil {
		return nil, db.WrapUnavailable(err)
	}
	return history, nil
}

// decideFunc picks the event to apply to the freshly loaded row.
type decideFunc func(current *domain.Submission) (domain.Event, *string, error)

// transition serializes on the submission row: the update only lands if the
// status and version read inside the transaction are still current.
func (s *Service) transition(ctx context.Context, caller identity.Caller, id snowflake.ID, decide decideFunc) (*domain.Submission, error) {
	if id == 0 {
		return nil, domain.ErrInvalidID
	}

	var (
		updated *domain.Submission
		from    domain.Status
		event   domain.Event
		reason  *string
	)
	err := db.Transaction(ctx, s.db, func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil || current.Removed() {
			return domain.ErrNotFound
		}

		event, reason, err = decide(current)
		if err != nil {
			return err
		}
		to, err := domain.Transition(current.Status, event)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		from = current.Status
		next := *current
		next.Status = to
		next.UpdatedAt = now
		switch event {
		case domain.EventApprove:
			next.RejectionReason = nil
			next.ReviewedBy = stringPtr(caller.UserID)
			next.ReviewedAt = &now
		case domain.EventReject, domain.EventUnpublish:
			next.RejectionReason = reason
			next.ReviewedBy = stringPtr(caller.UserID)
			next.ReviewedAt = &now
		case domain.EventResubmit:
			next.RejectionReason = nil
			next.ReviewedBy = nil
			next.ReviewedAt = nil
		}

		ok, err := s.repo.UpdateStatus(ctx, tx, &next, current.Status, current.Version)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}

		fromStatus := string(from)
		if err := s.repo.InsertHistory(ctx, tx, &domain.StatusHistory{
			ID:           s.genID.Generate(),
			SubmissionID: next.ID,
			FromStatus:   &fromStatus,
			ToStatus:     to,
			Event:        event,
			ActorID:      caller.UserID,
			Reason:       reason,
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, s.transitionFailed(ctx, id, event, err)
	}

	s.metrics.RecordTransition(ctx, string(event), metrics.OutcomeApplied)
	s.log.Info("submission transitioned",
		zap.String("submission_id", id.String()),
		zap.String("event", string(event)),
		zap.String("from", string(from)),
		zap.String("to", string(updated.Status)),
		zap.String("actor_id", caller.UserID),
	)
	if action := auditActionFor(event); action != "" {
		metadata := map[string]any{
			"from": string(from),
			"to":   string(updated.Status),
		}
		if reason != nil {
			metadata["reason"] = *reason
		}
		s.audit(ctx, caller, action, id, metadata)
	}
	return updated, nil
}

func (s *Service) transitionFailed(ctx context.Context, id snowflake.ID, event domain.Event, err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition):
		s.metrics.RecordTransition(ctx, string(event), metrics.OutcomeInvalid)
		return err
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, authorization.ErrForbidden):
		return err
	}
	s.metrics.RecordTransition(ctx, string(event), metrics.OutcomeError)
	s.log.Warn("submission transition failed",
		zap.String("submission_id", id.String()),
		zap.String("event", string(event)),
		zap.String("reason", db.ClassifyError(err)),
		zap.Error(err),
	)
	return db.WrapUnavailable(err)
}

func (s *Service) authorize(ctx context.Context, caller identity.Caller, action string) error {
	if strings.TrimSpace(caller.UserID) == "" {
		return identity.ErrUnauthorized
	}
	return s.authz.Authorize(ctx, caller.UserID, string(caller.Role), authorization.ObjectSubmission, action)
}

// audit runs after commit and never fails the operation.
func (s *Service) audit(ctx context.Context, caller identity.Caller, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeUser)
	if caller.IsAdmin() {
		actorType = string(auditdomain.ActorTypeAdmin)
	}
	actorID := caller.UserID
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, actorType, &actorID, action, auditdomain.TargetTypeSubmission, &targetID, metadata); err != nil {
		s.log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

func auditActionFor(event domain.Event) string {
	switch event {
	case domain.EventApprove:
		return auditdomain.ActionSubmissionApprove
	case domain.EventReject:
		return auditdomain.ActionSubmissionReject
	case domain.EventUnpublish:
		return auditdomain.ActionSubmissionUnpublish
	default:
		return ""
	}
}

func stringPtr(value string) *string {
	return &value
}

