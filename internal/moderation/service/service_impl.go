package service

import (
	"context"
	"database/sql"
	"math"
	"strings"

	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/identity"
	"github.com/smallbiznis/contentgate/internal/moderation/domain"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/pkg/db"
	"github.com/smallbiznis/contentgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Repo  domain.Repository
	Authz authorization.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  domain.Repository
	authz authorization.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("moderation.service"),
		repo:  p.Repo,
		authz: p.Authz,
	}
}

// List reads the count and the page from one snapshot.
func (s *Service) List(ctx context.Context, caller identity.Caller, req domain.ListRequest) (domain.ListResponse, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return domain.ListResponse{}, identity.ErrUnauthorized
	}
	if err := s.authz.Authorize(ctx, caller.UserID, string(caller.Role), authorization.ObjectModerationQueue, authorization.ActionModerationQueueView); err != nil {
		return domain.ListResponse{}, err
	}
	if err := validateFilter(req.Filter); err != nil {
		return domain.ListResponse{}, err
	}

	page := req.Page
	if page < 0 {
		return domain.ListResponse{}, domain.ErrInvalidPage
	}
	if page == 0 {
		page = 1
	}
	pageSize := req.PageSize
	if pageSize < 0 {
		return domain.ListResponse{}, domain.ErrInvalidPage
	}
	if pageSize == 0 {
		pageSize = domain.DefaultPageSize
	}
	if pageSize > domain.MaxPageSize {
		pageSize = domain.MaxPageSize
	}
	if page > math.MaxInt/pageSize {
		return domain.ListResponse{}, domain.ErrInvalidPage
	}

	var (
		total int64
		items []subdomain.Submission
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count, err := s.repo.Count(ctx, tx, req.Filter)
		if err != nil {
			return err
		}
		total = count
		if int64(pagination.Offset(page, pageSize)) >= total {
			items = []subdomain.Submission{}
			return nil
		}
		items, err = s.repo.List(ctx, tx, req.Filter, pagination.Offset(page, pageSize), pageSize)
		return err
	}, s.snapshotOptions()...)
	if err != nil {
		s.log.Warn("moderation list failed", zap.String("reason", db.ClassifyError(err)), zap.Error(err))
		return domain.ListResponse{}, db.WrapUnavailable(err)
	}

	return domain.ListResponse{
		Items:      items,
		TotalCount: total,
		PageInfo:   pagination.BuildOffsetPageInfo(page, pageSize, total),
	}, nil
}

// snapshotOptions requests a repeatable-read snapshot where the dialect honours it.
// sqlite transactions are already serializable and reject isolation options.
func (s *Service) snapshotOptions() []*sql.TxOptions {
	if db.IsPostgres(s.db) {
		return []*sql.TxOptions{{Isolation: sql.LevelRepeatableRead, ReadOnly: true}}
	}
	return nil
}

func validateFilter(filter domain.Filter) error {
	if filter.Status != nil {
		if _, err := subdomain.ParseStatus(string(*filter.Status)); err != nil {
			return err
		}
	}
	if filter.Kind != nil {
		if _, err := subdomain.ParseKind(string(*filter.Kind)); err != nil {
			return err
		}
	}
	if filter.CreatedFrom != nil && filter.CreatedTo != nil && filter.CreatedFrom.After(*filter.CreatedTo) {
		return domain.ErrInvalidTimeRange
	}
	return nil
}
