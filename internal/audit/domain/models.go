package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
	ActorTypeUser   ActorType = "user"
	ActorTypeAdmin  ActorType = "admin"
)

const (
	ActionSubmissionApprove    = "submission.approve"
	ActionSubmissionReject     = "submission.reject"
	ActionSubmissionUnpublish  = "submission.unpublish"
	ActionSubmissionRemove     = "submission.remove"
	ActionAuthorizationDenied  = "authorization.denied"
	ActionQuotaCompensated     = "quota.compensated"
	TargetTypeSubmission       = "submission"
	TargetTypeUsageEvent       = "usage_event"
	TargetTypeAuthorizationAct = "authorization"
)

type AuditLog struct {
	ID         snowflake.ID      `json:"id,string" gorm:"primaryKey"`
	ActorType  string            `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	ActorID    string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
