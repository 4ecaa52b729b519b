package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/quota/domain"
	"github.com/smallbiznis/contentgate/internal/tier"
	storedb "github.com/smallbiznis/contentgate/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) EnsureCounter(ctx context.Context, db *gorm.DB, key domain.CounterKey, periodStart time.Time, now time.Time) error {
	counter := domain.Counter{
		UserID:      key.UserID,
		Action:      string(key.Action),
		PeriodKey:   key.PeriodKey,
		PeriodStart: periodStart.UTC(),
		Used:        0,
		UpdatedAt:   now.UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&counter).Error
}

func (r *repo) IncrementBelow(ctx context.Context, db *gorm.DB, key domain.CounterKey, max int64, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE quota_counters
		 SET used = used + 1, updated_at = ?
		 WHERE user_id = ? AND action = ? AND period_key = ? AND used < ?`,
		now.UTC(),
		key.UserID,
		string(key.Action),
		key.PeriodKey,
		max,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, key domain.CounterKey, now time.Time) error {
	result := db.WithContext(ctx).Exec(
		`UPDATE quota_counters
		 SET used = used + 1, updated_at = ?
		 WHERE user_id = ? AND action = ? AND period_key = ?`,
		now.UTC(),
		key.UserID,
		string(key.Action),
		key.PeriodKey,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected != 1 {
		return errors.New("quota counter missing")
	}
	return nil
}

func (r *repo) Decrement(ctx context.Context, db *gorm.DB, key domain.CounterKey, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE quota_counters
		 SET used = used - 1, updated_at = ?
		 WHERE user_id = ? AND action = ? AND period_key = ? AND used > 0`,
		now.UTC(),
		key.UserID,
		string(key.Action),
		key.PeriodKey,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) Used(ctx context.Context, db *gorm.DB, key domain.CounterKey) (int64, error) {
	var rows []domain.Counter
	err := db.WithContext(ctx).
		Where("user_id = ? AND action = ? AND period_key = ?", key.UserID, string(key.Action), key.PeriodKey).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Used, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) error {
	if event == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_events (
			id, user_id, action, resource_id, period_key, reverses_event_id, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.UserID,
		event.Action,
		event.ResourceID,
		event.PeriodKey,
		event.ReversesEventID,
		event.OccurredAt.UTC(),
	).Error
}

// InsertReversal reports false when the target event already has a reversal.
func (r *repo) InsertReversal(ctx context.Context, db *gorm.DB, event *domain.UsageEvent) (bool, error) {
	if event == nil || !event.IsReversal() {
		return false, domain.ErrInvalidEvent
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reverses_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.UsageEvent, error) {
	var rows []domain.UsageEvent
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListOrphanedUploads returns forward upload events older than before that
// were never reversed and whose submission does not exist.
func (r *repo) ListOrphanedUploads(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []domain.UsageEvent
	err := db.WithContext(ctx).Raw(fmt.Sprintf(
		`SELECT e.id, e.user_id, e.action, e.resource_id, e.period_key, e.reverses_event_id, e.occurred_at
		 FROM usage_events e
		 WHERE e.action = ?
		   AND e.reverses_event_id IS NULL
		   AND e.occurred_at < ?
		   AND NOT EXISTS (SELECT 1 FROM usage_events r WHERE r.reverses_event_id = e.id)
		   AND NOT EXISTS (SELECT 1 FROM submissions s WHERE CAST(s.id AS %s) = e.resource_id)
		 ORDER BY e.occurred_at ASC, e.id ASC
		 LIMIT ?`, stringCastType(dialectName(db))),
		string(tier.ActionUpload),
		before.UTC(),
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].ResourceID = strings.TrimSpace(rows[i].ResourceID)
	}
	return rows, nil
}

func dialectName(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	return db.Dialector.Name()
}

// stringCastType is the CAST target that turns an integer id into text.
// MySQL only accepts CHAR there.
func stringCastType(dialect string) string {
	if strings.EqualFold(dialect, storedb.DialectMySQL) {
		return "CHAR"
	}
	return "TEXT"
}
