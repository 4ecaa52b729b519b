package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/identity"
	"gorm.io/gorm"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Submission, error)
	Get(ctx context.Context, id snowflake.ID) (*Submission, error)
	View(ctx context.Context, caller identity.Caller, id snowflake.ID) (*Submission, error)
	Approve(ctx context.Context, caller identity.Caller, id snowflake.ID) (*Submission, error)
	Reject(ctx context.Context, caller identity.Caller, req RejectRequest) (*Submission, error)
	Resubmit(ctx context.Context, caller identity.Caller, id snowflake.ID) (*Submission, error)
	Remove(ctx context.Context, caller identity.Caller, id snowflake.ID, reason string) error
	History(ctx context.Context, caller identity.Caller, id snowflake.ID) ([]StatusHistory, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, submission *Submission) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Submission, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, submission *Submission, expectedStatus Status, expectedVersion int64) (bool, error)
	MarkRemoved(ctx context.Context, db *gorm.DB, id snowflake.ID, removedBy string, at time.Time) (bool, error)
	InsertHistory(ctx context.Context, db *gorm.DB, entry *StatusHistory) error
	ListHistory(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]StatusHistory, error)
}

var (
	ErrNotFound          = errors.New("submission_not_found")
	ErrAlreadyExists     = errors.New("submission_already_exists")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrInvalidKind       = errors.New("invalid_kind")
	ErrInvalidStatus     = errors.New("invalid_status")
	ErrInvalidOwner      = errors.New("invalid_owner")
	ErrInvalidID         = errors.New("invalid_submission_id")
	ErrReasonRequired    = errors.New("reason_required")
)
