package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditrepository "github.com/smallbiznis/contentgate/internal/audit/repository"
	auditservice "github.com/smallbiznis/contentgate/internal/audit/service"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/identity"
	"github.com/smallbiznis/contentgate/internal/storetest"
	"github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/internal/submission/repository"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	owner    = identity.Caller{UserID: "owner-1", Role: identity.RoleUser, Tier: tier.Free}
	stranger = identity.Caller{UserID: "stranger-1", Role: identity.RoleUser, Tier: tier.Free}
	admin    = identity.Caller{UserID: "admin-1", Role: identity.RoleAdmin, Tier: tier.Premium}
	admin2   = identity.Caller{UserID: "admin-2", Role: identity.RoleAdmin, Tier: tier.Premium}
)

type fixture struct {
	svc   domain.Service
	repo  domain.Repository
	conn  *gorm.DB
	clock *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureOn(t, storetest.Open(t), repository.Provide())
}

func newFixtureOn(t *testing.T, conn *gorm.DB, repo domain.Repository) fixture {
	t.Helper()
	node := storetest.Node(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepository.Provide(),
		Clock: fake,
	})
	enforcer, err := authorization.NewEnforcer(conn)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{
		Log:      zap.NewNop(),
		Enforcer: enforcer,
		AuditSvc: auditSvc,
	})

	svc := NewService(Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     repo,
		Authz:    authz,
		Clock:    fake,
		AuditSvc: auditSvc,
	})
	return fixture{svc: svc, repo: repo, conn: conn, clock: fake}
}

func (f fixture) create(t *testing.T) *domain.Submission {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), domain.CreateRequest{
		OwnerID:     owner.UserID,
		Kind:        domain.KindSummary,
		ResourceRef: "blobs/summary-1",
	})
	require.NoError(t, err)
	return sub
}

func TestCreateStartsPending(t *testing.T) {
	f := newFixture(t)

	sub := f.create(t)
	assert.Equal(t, domain.StatusPending, sub.Status)
	assert.Equal(t, int64(1), sub.Version)
	assert.Nil(t, sub.RejectionReason)
	assert.Nil(t, sub.ReviewedBy)

	history, err := f.svc.History(context.Background(), owner, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.EventCreate, history[0].Event)
	assert.Nil(t, history[0].FromStatus)
}

func TestCreateWithPreallocatedID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := snowflake.ID(777)
	sub, err := f.svc.Create(ctx, domain.CreateRequest{ID: id, OwnerID: owner.UserID, Kind: domain.KindBook})
	require.NoError(t, err)
	assert.Equal(t, id, sub.ID)

	_, err = f.svc.Create(ctx, domain.CreateRequest{ID: id, OwnerID: owner.UserID, Kind: domain.KindBook})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, domain.CreateRequest{Kind: domain.KindBook})
	assert.ErrorIs(t, err, domain.ErrInvalidOwner)
	_, err = f.svc.Create(ctx, domain.CreateRequest{OwnerID: "x", Kind: "video"})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestApproveSetsReviewerAndAudits(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	approved, err := f.svc.Approve(context.Background(), admin, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, admin.UserID, *approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)
	assert.Equal(t, int64(2), approved.Version)

	assert.Equal(t, int64(1), storetest.Count(t, f.conn, "audit_logs", "action = ? AND target_id = ?", "submission.approve", sub.ID.String()))
}

func TestApproveTwiceFails(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.Approve(context.Background(), admin, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.Approve(context.Background(), admin2, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestNonAdminCannotModerate(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, owner, sub.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = f.svc.Reject(ctx, owner, domain.RejectRequest{ID: sub.ID, Reason: "spam"})
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	current, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, current.Status)
	assert.Equal(t, int64(2), storetest.Count(t, f.conn, "audit_logs", "action = ?", "authorization.denied"))
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.Reject(context.Background(), admin, domain.RejectRequest{ID: sub.ID, Reason: "   "})
	assert.ErrorIs(t, err, domain.ErrReasonRequired)
}

func TestRejectResubmitRoundTrip(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	rejected, err := f.svc.Reject(ctx, admin, domain.RejectRequest{ID: sub.ID, Reason: "blurry scan"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.RejectionReason)
	assert.Equal(t, "blurry scan", *rejected.RejectionReason)

	f.clock.Advance(time.Hour)
	resubmitted, err := f.svc.Resubmit(ctx, owner, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, resubmitted.Status)
	assert.Nil(t, resubmitted.RejectionReason)
	assert.Nil(t, resubmitted.ReviewedBy)
	assert.Nil(t, resubmitted.ReviewedAt)

	stored, err := f.svc.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Nil(t, stored.RejectionReason)
	assert.Nil(t, stored.ReviewedBy)
	assert.Equal(t, sub.OwnerID, stored.OwnerID)
}

func TestResubmitRequiresOwner(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Reject(ctx, admin, domain.RejectRequest{ID: sub.ID, Reason: "wrong course"})
	require.NoError(t, err)

	_, err = f.svc.Resubmit(ctx, stranger, sub.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = f.svc.Resubmit(ctx, admin, sub.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
}

func TestResubmitPendingFails(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	_, err := f.svc.Resubmit(context.Background(), owner, sub.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestUnpublishNeedsOverride(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, admin, sub.ID)
	require.NoError(t, err)

	_, err = f.svc.Reject(ctx, admin, domain.RejectRequest{ID: sub.ID, Reason: "copyright"})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	rejected, err := f.svc.Reject(ctx, admin, domain.RejectRequest{ID: sub.ID, Reason: "copyright", Override: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)

	history, err := f.svc.History(ctx, admin, sub.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, domain.EventUnpublish, history[2].Event)
	require.NotNil(t, history[2].FromStatus)
	assert.Equal(t, string(domain.StatusApproved), *history[2].FromStatus)
	assert.Equal(t, int64(1), storetest.Count(t, f.conn, "audit_logs", "action = ?", "submission.unpublish"))
}

func TestOverrideOnPendingIsPlainReject(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)

	rejected, err := f.svc.Reject(context.Background(), admin, domain.RejectRequest{ID: sub.ID, Reason: "dup", Override: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, int64(1), storetest.Count(t, f.conn, "submission_status_history", "event = ?", "reject"))
}

// readGate holds transactions after they read a submission until the
// expected number of them have read it. It passes through until armed.
type readGate struct {
	domain.Repository
	want     int32
	arrived  atomic.Int32
	ready    chan struct{}
	timedOut atomic.Bool
}

func (r *readGate) arm(want int) {
	r.want = int32(want)
	r.ready = make(chan struct{})
}

func (r *readGate) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Submission, error) {
	sub, err := r.Repository.FindByID(ctx, tx, id)
	if r.ready == nil {
		return sub, err
	}
	if r.arrived.Add(1) == r.want {
		close(r.ready)
	}
	select {
	case <-r.ready:
	case <-time.After(5 * time.Second):
		r.timedOut.Store(true)
	}
	return sub, err
}

func TestConcurrentApproveAndRejectExactlyOneWins(t *testing.T) {
	gate := &readGate{Repository: repository.Provide()}
	f := newFixtureOn(t, storetest.OpenConcurrent(t, 4), gate)
	sub := f.create(t)
	ctx := context.Background()
	gate.arm(2)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = f.svc.Approve(ctx, admin, sub.ID)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = f.svc.Reject(ctx, admin2, domain.RejectRequest{ID: sub.ID, Reason: "off topic"})
	}()
	wg.Wait()

	require.False(t, gate.timedOut.Load(), "transitions never overlapped")
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, int64(2), storetest.Count(t, f.conn, "submission_status_history", "submission_id = ?", sub.ID))
}

func TestStaleVersionLosesUpdate(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, admin, sub.ID)
	require.NoError(t, err)

	stale := *sub
	reason := "late click"
	stale.Status = domain.StatusRejected
	stale.RejectionReason = &reason
	ok, err := f.repo.UpdateStatus(ctx, f.conn, &stale, domain.StatusPending, sub.Version)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStoreEnforcesRejectionReasonInvariant(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	err := f.repo.Insert(context.Background(), f.conn, &domain.Submission{
		ID:        99,
		Kind:      domain.KindBook,
		OwnerID:   owner.UserID,
		Status:    domain.StatusRejected,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	})
	assert.Error(t, err)
}

func TestRemoveHidesSubmission(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Remove(ctx, owner, sub.ID, "mine"), authorization.ErrForbidden)
	require.NoError(t, f.svc.Remove(ctx, admin, sub.ID, "duplicate listing"))

	_, err := f.svc.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.Approve(ctx, admin, sub.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, f.svc.Remove(ctx, admin, sub.ID, "again"), domain.ErrNotFound)

	raw, err := f.repo.FindByID(ctx, f.conn, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Equal(t, domain.StatusPending, raw.Status)
	require.NotNil(t, raw.RemovedBy)
	assert.Equal(t, admin.UserID, *raw.RemovedBy)
	assert.Equal(t, int64(1), storetest.Count(t, f.conn, "audit_logs", "action = ?", "submission.remove"))
}

func TestViewVisibility(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.View(ctx, owner, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.View(ctx, admin, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.View(ctx, stranger, sub.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.Approve(ctx, admin, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.View(ctx, stranger, sub.ID)
	require.NoError(t, err)
}

func TestHistoryAccess(t *testing.T) {
	f := newFixture(t)
	sub := f.create(t)
	ctx := context.Background()

	_, err := f.svc.History(ctx, stranger, sub.ID)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	_, err = f.svc.History(ctx, admin, sub.ID)
	require.NoError(t, err)
	_, err = f.svc.History(ctx, owner, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidID)
}
