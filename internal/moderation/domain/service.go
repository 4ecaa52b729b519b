package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/contentgate/internal/identity"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Filter struct {
	Status      *subdomain.Status
	Kind        *subdomain.Kind
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	OwnerID     string
}

type ListRequest struct {
	Filter
	Page     int
	PageSize int
}

type ListResponse struct {
	Items      []subdomain.Submission    `json:"items"`
	TotalCount int64                     `json:"total_count"`
	PageInfo   pagination.OffsetPageInfo `json:"page_info"`
}

type Service interface {
	List(ctx context.Context, caller identity.Caller, req ListRequest) (ListResponse, error)
}

type Repository interface {
	Count(ctx context.Context, db *gorm.DB, filter Filter) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter Filter, offset, limit int) ([]subdomain.Submission, error)
}

var (
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidPage      = errors.New("invalid_page")
)
