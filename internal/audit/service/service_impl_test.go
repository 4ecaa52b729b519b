package service

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/contentgate/internal/audit/domain"
	"github.com/smallbiznis/contentgate/internal/audit/repository"
	"github.com/smallbiznis/contentgate/internal/auditcontext"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/storetest"
	"github.com/smallbiznis/contentgate/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    storetest.Open(t),
		Log:   zap.NewNop(),
		GenID: storetest.Node(t),
		Repo:  repository.Provide(),
		Clock: fake,
	}).(*Service)
	return svc, fake
}

func strPtr(v string) *string { return &v }

func TestAuditLogUsesContextActorAndRequestMetadata(t *testing.T) {
	svc, _ := newTestService(t)

	ctx := auditcontext.WithActor(context.Background(), "admin", "admin-1")
	ctx = auditcontext.WithRequestID(ctx, "req-42")
	ctx = auditcontext.WithRequestMetadata(ctx, "10.0.0.1", "curl/8")

	err := svc.AuditLog(ctx, "", nil, auditdomain.ActionSubmissionApprove, auditdomain.TargetTypeSubmission, strPtr("123"), map[string]any{"reason": "ok"})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	assert.Equal(t, "admin", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "admin-1", *entry.ActorID)
	require.NotNil(t, entry.IPAddress)
	assert.Equal(t, "10.0.0.1", *entry.IPAddress)
	assert.Equal(t, "req-42", entry.Metadata["request_id"])
	assert.Equal(t, "ok", entry.Metadata["reason"])
}

func TestAuditLogDefaultsToSystemActor(t *testing.T) {
	svc, _ := newTestService(t)

	require.NoError(t, svc.AuditLog(context.Background(), "", nil, auditdomain.ActionQuotaCompensated, "", nil, nil))

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), resp.AuditLogs[0].ActorType)
	assert.Equal(t, "unknown", resp.AuditLogs[0].TargetType)
	assert.Nil(t, resp.AuditLogs[0].ActorID)
}

func TestAuditLogRejectsEmptyAction(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.AuditLog(context.Background(), "", nil, "  ", "submission", nil, nil)
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AuditLog(ctx, "admin", strPtr("admin-1"), auditdomain.ActionSubmissionApprove, auditdomain.TargetTypeSubmission, nil, nil))
		fake.Advance(time.Second)
	}

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2}})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.NotEmpty(t, first.NextPageToken)
	assert.True(t, first.AuditLogs[0].CreatedAt.After(first.AuditLogs[1].CreatedAt))

	seen := map[string]bool{}
	for _, entry := range first.AuditLogs {
		seen[entry.ID.String()] = true
	}

	token := first.NextPageToken
	for token != "" {
		page, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageSize: 2, PageToken: token}})
		require.NoError(t, err)
		for _, entry := range page.AuditLogs {
			if seen[entry.ID.String()] {
				t.Fatalf("entry %s returned twice", entry.ID)
			}
			seen[entry.ID.String()] = true
		}
		token = page.NextPageToken
	}
	assert.Len(t, seen, 5)
}

func TestListValidatesInput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: pagination.Pagination{PageToken: "%%%"}})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)
}
