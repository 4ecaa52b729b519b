// Package gate composes the quota ledger and the approval state machine
// into the two user-facing decisions: may this upload be accepted, and may
// this download be served.
package gate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentgate/internal/capability"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/identity"
	"github.com/smallbiznis/contentgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/contentgate/internal/quota/domain"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	"github.com/smallbiznis/contentgate/internal/tier"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultCallTimeout = 5 * time.Second

// TokenIssuer signs the capability handed out with a download grant.
type TokenIssuer interface {
	Issue(ctx context.Context, req capability.Request) (capability.Grant, error)
}

type UploadRequest struct {
	Kind        subdomain.Kind
	ResourceRef string
}

// QuotaStatus is the caller's allowance right after the decision.
type QuotaStatus struct {
	Action    tier.Action `json:"action"`
	Used      int64       `json:"used"`
	Limit     tier.Limit  `json:"limit"`
	Remaining *int64      `json:"remaining"`
	ResetsAt  time.Time   `json:"resets_at"`
}

type UploadResult struct {
	Submission *subdomain.Submission `json:"submission"`
	Quota      QuotaStatus           `json:"quota"`
}

type DownloadGrant struct {
	GrantID    string                `json:"grant_id"`
	Token      string                `json:"token"`
	ExpiresAt  time.Time             `json:"expires_at"`
	Submission *subdomain.Submission `json:"submission"`
	Quota      QuotaStatus           `json:"quota"`
}

type Params struct {
	fx.In

	Log         *zap.Logger
	Config      config.Config
	GenID       *snowflake.Node
	Clock       clock.Clock
	Quota       quotadomain.Service
	Submissions subdomain.Service
	Issuer      TokenIssuer
	Metrics     *metrics.Metrics `optional:"true"`
}

type Gate struct {
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	quota       quotadomain.Service
	submissions subdomain.Service
	issuer      TokenIssuer
	metrics     *metrics.Metrics
	timeout     time.Duration
	tracer      trace.Tracer
}

func New(p Params) *Gate {
	timeout := p.Config.GateCallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Gate{
		log:         p.Log.Named("gate"),
		genID:       p.GenID,
		clock:       p.Clock,
		quota:       p.Quota,
		submissions: p.Submissions,
		issuer:      p.Issuer,
		metrics:     p.Metrics,
		timeout:     timeout,
		tracer:      otel.Tracer("contentgate/gate"),
	}
}

// RequestUpload consumes one upload and creates the pending submission.
// When creation fails after the unit was consumed, the unit is released.
func (g *Gate) RequestUpload(ctx context.Context, caller identity.Caller, req UploadRequest) (UploadResult, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return UploadResult{}, identity.ErrUnauthorized
	}
	kind, err := subdomain.ParseKind(string(req.Kind))
	if err != nil {
		return UploadResult{}, err
	}
	resourceRef := strings.TrimSpace(req.ResourceRef)

	ctx, span := g.tracer.Start(ctx, "gate.RequestUpload", trace.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("tier", string(caller.Tier)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	id := g.genID.Generate()
	decision, err := g.quota.RecordAndCheck(callCtx, quotadomain.RecordRequest{
		UserID:     caller.UserID,
		Action:     tier.ActionUpload,
		Tier:       caller.Tier,
		ResourceID: id.String(),
		Now:        g.clock.Now(),
	})
	if err != nil {
		return UploadResult{}, g.fail(span, err)
	}
	if !decision.Allowed {
		return UploadResult{}, g.fail(span, exceeded(tier.ActionUpload, decision))
	}

	submission, err := g.submissions.Create(callCtx, subdomain.CreateRequest{
		ID:          id,
		OwnerID:     caller.UserID,
		Kind:        kind,
		ResourceRef: resourceRef,
	})
	if err != nil {
		existing, recoverErr := g.recoverUpload(ctx, id, decision.EventID, err)
		if recoverErr != nil {
			return UploadResult{}, g.fail(span, recoverErr)
		}
		submission = existing
	}

	span.SetAttributes(attribute.String("submission_id", submission.ID.String()))
	return UploadResult{Submission: submission, Quota: status(tier.ActionUpload, decision)}, nil
}

// recoverUpload decides the fate of a consumed unit whose submission create failed.
// The unit is only released once the submission is known to be absent.
func (g *Gate) recoverUpload(ctx context.Context, id, eventID snowflake.ID, createErr error) (*subdomain.Submission, error) {
	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	existing, err := g.submissions.Get(detached, id)
	switch {
	case err == nil:
		g.log.Warn("submission create reported failure but row exists",
			zap.String("submission_id", id.String()),
			zap.Error(createErr),
		)
		return existing, nil
	case !errors.Is(err, subdomain.ErrNotFound):
		g.log.Error("cannot confirm submission absence, leaving upload to reconciliation",
			zap.String("submission_id", id.String()),
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
		return nil, createErr
	}

	g.compensate(detached, eventID, "create_failed")
	return nil, createErr
}

// RequestDownload consumes one download for approved content and returns a
// signed capability for the blob store.
func (g *Gate) RequestDownload(ctx context.Context, caller identity.Caller, submissionID snowflake.ID) (DownloadGrant, error) {
	if strings.TrimSpace(caller.UserID) == "" {
		return DownloadGrant{}, identity.ErrUnauthorized
	}
	if submissionID == 0 {
		return DownloadGrant{}, subdomain.ErrInvalidID
	}

	ctx, span := g.tracer.Start(ctx, "gate.RequestDownload", trace.WithAttributes(
		attribute.String("submission_id", submissionID.String()),
		attribute.String("tier", string(caller.Tier)),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	submission, err := g.submissions.Get(callCtx, submissionID)
	if err != nil {
		return DownloadGrant{}, g.fail(span, err)
	}
	if submission.Status != subdomain.StatusApproved {
		return DownloadGrant{}, g.fail(span, &NotApprovedError{Status: submission.Status})
	}

	decision, err := g.quota.RecordAndCheck(callCtx, quotadomain.RecordRequest{
		UserID:     caller.UserID,
		Action:     tier.ActionDownload,
		Tier:       caller.Tier,
		ResourceID: submission.ID.String(),
		Now:        g.clock.Now(),
	})
	if err != nil {
		return DownloadGrant{}, g.fail(span, err)
	}
	if !decision.Allowed {
		return DownloadGrant{}, g.fail(span, exceeded(tier.ActionDownload, decision))
	}

	grant, err := g.issuer.Issue(callCtx, capability.Request{
		UserID:       caller.UserID,
		SubmissionID: submission.ID,
		ResourceRef:  submission.ResourceRef,
		EventID:      decision.EventID,
	})
	if err != nil {
		detached, cancelRelease := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancelRelease()
		g.compensate(detached, decision.EventID, "issue_failed")
		if ctxErr := callCtx.Err(); ctxErr != nil {
			return DownloadGrant{}, g.fail(span, ctxErr)
		}
		g.log.Error("capability issue failed", zap.String("submission_id", submission.ID.String()), zap.Error(err))
		return DownloadGrant{}, g.fail(span, ErrCapabilityUnavailable)
	}

	g.metrics.RecordDownloadGrant(ctx, string(submission.Kind))
	return DownloadGrant{
		GrantID:    grant.ID,
		Token:      grant.Token,
		ExpiresAt:  grant.ExpiresAt,
		Submission: submission,
		Quota:      status(tier.ActionDownload, decision),
	}, nil
}

func (g *Gate) compensate(ctx context.Context, eventID snowflake.ID, reason string) {
	if err := g.quota.Release(ctx, eventID, g.clock.Now()); err != nil {
		g.log.Error("quota compensation failed, reconciliation will retry uploads",
			zap.String("event_id", eventID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	g.metrics.RecordQuotaCompensation(ctx, reason)
	g.log.Info("quota compensated",
		zap.String("event_id", eventID.String()),
		zap.String("reason", reason),
	)
}

func (g *Gate) fail(span trace.Span, err error) error {
	var (
		quotaErr    *QuotaExceededError
		approvalErr *NotApprovedError
	)
	switch {
	case errors.As(err, &quotaErr), errors.As(err, &approvalErr):
		span.SetAttributes(attribute.String("gate.refusal", err.Error()))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "gate call failed")
	}
	return err
}

func exceeded(action tier.Action, decision quotadomain.Result) *QuotaExceededError {
	return &QuotaExceededError{
		Action:    action,
		Used:      decision.Used,
		Limit:     decision.Limit,
		PeriodEnd: decision.PeriodEnd,
	}
}

func status(action tier.Action, decision quotadomain.Result) QuotaStatus {
	out := QuotaStatus{
		Action:   action,
		Used:     decision.Used,
		Limit:    decision.Limit,
		ResetsAt: decision.PeriodEnd,
	}
	if !decision.Limit.Unbounded {
		remaining := decision.Remaining
		out.Remaining = &remaining
	}
	return out
}
