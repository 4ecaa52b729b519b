package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/tier"
)

const periodKeyLayout = "2006-01"

// Period is a half-open calendar month [Start, End) in UTC.
type Period struct {
	Start time.Time
	End   time.Time
	Key   string
}

// PeriodFor returns the UTC calendar month containing now.
func PeriodFor(now time.Time) Period {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, 0),
		Key:   start.Format(periodKeyLayout),
	}
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

// CounterKey addresses the single row that serializes one user's usage of
// one action within one period.
type CounterKey struct {
	UserID    string
	Action    tier.Action
	PeriodKey string
}

type Counter struct {
	UserID      string    `gorm:"primaryKey"`
	Action      string    `gorm:"primaryKey"`
	PeriodKey   string    `gorm:"primaryKey"`
	PeriodStart time.Time
	Used        int64
	UpdatedAt   time.Time
}

func (Counter) TableName() string { return "quota_counters" }

// UsageEvent is append-only. A reversal carries ReversesEventID and undoes
// exactly one forward event.
type UsageEvent struct {
	ID              snowflake.ID  `json:"id,string" gorm:"primaryKey"`
	UserID          string        `json:"user_id"`
	Action          string        `json:"action"`
	ResourceID      string        `json:"resource_id"`
	PeriodKey       string        `json:"period_key"`
	ReversesEventID *snowflake.ID `json:"reverses_event_id,omitempty"`
	OccurredAt      time.Time     `json:"occurred_at"`
}

func (UsageEvent) TableName() string { return "usage_events" }

func (e UsageEvent) IsReversal() bool {
	return e.ReversesEventID != nil && *e.ReversesEventID != 0
}

type RecordRequest struct {
	UserID     string
	Action     tier.Action
	Tier       tier.Tier
	ResourceID string
	Now        time.Time
}

// Result is the outcome of RecordAndCheck. EventID is zero unless Allowed.
type Result struct {
	Allowed     bool
	Used        int64
	Limit       tier.Limit
	Remaining   int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	EventID     snowflake.ID
}

type ActionUsage struct {
	Action    tier.Action `json:"action"`
	Used      int64       `json:"used"`
	Limit     tier.Limit  `json:"limit"`
	Remaining *int64      `json:"remaining"`
	Unlimited bool        `json:"unlimited"`
}

type Summary struct {
	UserID      string        `json:"user_id"`
	Tier        tier.Tier     `json:"tier"`
	PeriodKey   string        `json:"period"`
	PeriodStart time.Time     `json:"period_start"`
	PeriodEnd   time.Time     `json:"resets_at"`
	Actions     []ActionUsage `json:"actions"`
}
