package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/submission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, submission *domain.Submission) error {
	if submission == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO submissions (
			id, kind, owner_id, status, resource_ref, rejection_reason,
			reviewed_by, reviewed_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		submission.ID,
		string(submission.Kind),
		submission.OwnerID,
		string(submission.Status),
		submission.ResourceRef,
		submission.RejectionReason,
		submission.ReviewedBy,
		submission.ReviewedAt,
		submission.Version,
		submission.CreatedAt,
		submission.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Submission, error) {
	var rows []domain.Submission
	if err := db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateStatus writes the lifecycle fields of submission only if the stored row
// still has expectedStatus and expectedVersion. On success submission.Version
// is advanced to match the stored row.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, submission *domain.Submission, expectedStatus domain.Status, expectedVersion int64) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE submissions
		 SET status = ?, rejection_reason = ?, reviewed_by = ?, reviewed_at = ?,
		     version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND version = ? AND removed_at IS NULL`,
		string(submission.Status),
		submission.RejectionReason,
		submission.ReviewedBy,
		submission.ReviewedAt,
		submission.UpdatedAt,
		submission.ID,
		string(expectedStatus),
		expectedVersion,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected != 1 {
		return false, nil
	}
	submission.Version = expectedVersion + 1
	return true, nil
}

func (r *repo) MarkRemoved(ctx context.Context, db *gorm.DB, id snowflake.ID, removedBy string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE submissions
		 SET removed_at = ?, removed_by = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND removed_at IS NULL`,
		at.UTC(),
		removedBy,
		at.UTC(),
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *domain.StatusHistory) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO submission_status_history (
			id, submission_id, from_status, to_status, event, actor_id, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.SubmissionID,
		entry.FromStatus,
		string(entry.ToStatus),
		string(entry.Event),
		entry.ActorID,
		entry.Reason,
		entry.CreatedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, submissionID snowflake.ID) ([]domain.StatusHistory, error) {
	var rows []domain.StatusHistory
	err := db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
