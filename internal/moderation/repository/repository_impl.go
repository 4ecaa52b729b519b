package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/contentgate/internal/moderation/domain"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Count(ctx context.Context, db *gorm.DB, filter domain.Filter) (int64, error) {
	var count int64
	if err := applyFilter(db.WithContext(ctx).Model(&subdomain.Submission{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.Filter, offset, limit int) ([]subdomain.Submission, error) {
	var items []subdomain.Submission
	stmt := applyFilter(db.WithContext(ctx).Model(&subdomain.Submission{}), filter).
		Order("created_at desc, id desc")
	if offset > 0 {
		stmt = stmt.Offset(offset)
	}
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func applyFilter(stmt *gorm.DB, filter domain.Filter) *gorm.DB {
	stmt = stmt.Where("removed_at IS NULL")
	if filter.Status != nil {
		stmt = stmt.Where("status = ?", string(*filter.Status))
	}
	if filter.Kind != nil {
		stmt = stmt.Where("kind = ?", string(*filter.Kind))
	}
	if ownerID := strings.TrimSpace(filter.OwnerID); ownerID != "" {
		stmt = stmt.Where("owner_id = ?", ownerID)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}
	return stmt
}
