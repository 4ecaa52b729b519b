package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindBook    Kind = "book"
	KindSummary Kind = "summary"
	KindLecture Kind = "lecture"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindBook:
		return KindBook, nil
	case KindSummary:
		return KindSummary, nil
	case KindLecture:
		return KindLecture, nil
	default:
		return "", ErrInvalidKind
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusApproved:
		return StatusApproved, nil
	case StatusRejected:
		return StatusRejected, nil
	default:
		return "", ErrInvalidStatus
	}
}

type Event string

const (
	EventCreate    Event = "create"
	EventApprove   Event = "approve"
	EventReject    Event = "reject"
	EventResubmit  Event = "resubmit"
	EventUnpublish Event = "unpublish"
)

var Statuses = []Status{StatusPending, StatusApproved, StatusRejected}

var Events = []Event{EventCreate, EventApprove, EventReject, EventResubmit, EventUnpublish}

type Submission struct {
	ID              snowflake.ID `json:"id,string" gorm:"primaryKey"`
	Kind            Kind         `json:"kind"`
	OwnerID         string       `json:"owner_id"`
	Status          Status       `json:"status"`
	ResourceRef     string       `json:"resource_ref,omitempty"`
	RejectionReason *string      `json:"rejection_reason"`
	ReviewedBy      *string      `json:"reviewed_by"`
	ReviewedAt      *time.Time   `json:"reviewed_at"`
	Version         int64        `json:"version"`
	RemovedAt       *time.Time   `json:"removed_at,omitempty"`
	RemovedBy       *string      `json:"removed_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (Submission) TableName() string { return "submissions" }

func (s Submission) Removed() bool {
	return s.RemovedAt != nil
}

type StatusHistory struct {
	ID           snowflake.ID `json:"id,string" gorm:"primaryKey"`
	SubmissionID snowflake.ID `json:"submission_id,string"`
	FromStatus   *string      `json:"from_status"`
	ToStatus     Status       `json:"to_status"`
	Event        Event        `json:"event"`
	ActorID      string       `json:"actor_id"`
	Reason       *string      `json:"reason,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

func (StatusHistory) TableName() string { return "submission_status_history" }

type CreateRequest struct {
	// ID may be pre-allocated by the caller; zero means generate one.
	ID          snowflake.ID
	OwnerID     string
	Kind        Kind
	ResourceRef string
}

type RejectRequest struct {
	ID     snowflake.ID
	Reason string
	// Override lets an admin pull an approved submission back to rejected.
	Override bool
}
