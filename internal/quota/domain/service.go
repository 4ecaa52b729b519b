package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/tier"
	"gorm.io/gorm"
)

type Service interface {
	// RecordAndCheck atomically consumes one unit of the caller's allowance.
	// Allowed=true means the event is already committed; Allowed=false means
	// nothing was written. Store failures return an error and Allowed=false.
	RecordAndCheck(ctx context.Context, req RecordRequest) (Result, error)
	// Release appends a reversal for eventID and returns the unit. Releasing
	// the same event twice is a no-op.
	Release(ctx context.Context, eventID snowflake.ID, now time.Time) error
	Usage(ctx context.Context, userID string, t tier.Tier, now time.Time) (Summary, error)
}

type Repository interface {
	EnsureCounter(ctx context.Context, db *gorm.DB, key CounterKey, periodStart time.Time, now time.Time) error
	IncrementBelow(ctx context.Context, db *gorm.DB, key CounterKey, max int64, now time.Time) (bool, error)
	Increment(ctx context.Context, db *gorm.DB, key CounterKey, now time.Time) error
	Decrement(ctx context.Context, db *gorm.DB, key CounterKey, now time.Time) (bool, error)
	Used(ctx context.Context, db *gorm.DB, key CounterKey) (int64, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *UsageEvent) error
	InsertReversal(ctx context.Context, db *gorm.DB, event *UsageEvent) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageEvent, error)
	ListOrphanedUploads(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]UsageEvent, error)
}

var (
	ErrInvalidUserID = errors.New("invalid_user_id")
	ErrInvalidEvent  = errors.New("invalid_event")
	ErrEventNotFound = errors.New("usage_event_not_found")
)
