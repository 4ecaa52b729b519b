package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	ObjectSubmission      = "submission"
	ObjectModerationQueue = "moderation_queue"
	ObjectAuditLog        = "audit_log"
	ObjectQuota           = "quota"
)

const (
	ActionSubmissionCreate    = "submission.create"
	ActionSubmissionDownload  = "submission.download"
	ActionSubmissionResubmit  = "submission.resubmit"
	ActionSubmissionApprove   = "submission.approve"
	ActionSubmissionReject    = "submission.reject"
	ActionSubmissionUnpublish = "submission.unpublish"
	ActionSubmissionRemove    = "submission.remove"
	ActionSubmissionHistory   = "submission.history"

	ActionModerationQueueView = "moderation_queue.view"
	ActionAuditLogView        = "audit_log.view"
	ActionQuotaView           = "quota.view"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads persisted policies through the gorm adapter and seeds the
// built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(roleSubject(role), object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Info("authorization denied",
			zap.String("actor_id", actorID),
			zap.String("role", role),
			zap.String("object", object),
			zap.String("action", action),
		)
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID string, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorType := string(auditdomain.ActorTypeUser)
	if role == RoleAdmin {
		actorType = string(auditdomain.ActorTypeAdmin)
	}
	targetID := object
	_ = s.auditSvc.AuditLog(ctx, actorType, &actorID, auditdomain.ActionAuthorizationDenied, auditdomain.TargetTypeAuthorizationAct, &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func roleSubject(role string) string {
	return "role:" + role
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// End-user permissions
		{roleSubject(RoleUser), ObjectSubmission, ActionSubmissionCreate},
		{roleSubject(RoleUser), ObjectSubmission, ActionSubmissionDownload},
		{roleSubject(RoleUser), ObjectSubmission, ActionSubmissionResubmit},
		{roleSubject(RoleUser), ObjectQuota, ActionQuotaView},

		// Moderator permissions
		{roleSubject(RoleAdmin), ObjectSubmission, ActionSubmissionApprove},
		{roleSubject(RoleAdmin), ObjectSubmission, ActionSubmissionReject},
		{roleSubject(RoleAdmin), ObjectSubmission, ActionSubmissionUnpublish},
		{roleSubject(RoleAdmin), ObjectSubmission, ActionSubmissionRemove},
		{roleSubject(RoleAdmin), ObjectSubmission, ActionSubmissionHistory},
		{roleSubject(RoleAdmin), ObjectModerationQueue, ActionModerationQueueView},
		{roleSubject(RoleAdmin), ObjectAuditLog, ActionAuditLogView},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	// Admins keep every end-user grant.
	if _, err := enforcer.AddGroupingPolicy(roleSubject(RoleAdmin), roleSubject(RoleUser)); err != nil {
		return err
	}
	return nil
}
