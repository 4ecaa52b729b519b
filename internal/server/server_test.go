package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	auditrepository "github.com/smallbiznis/contentgate/internal/audit/repository"
	auditservice "github.com/smallbiznis/contentgate/internal/audit/service"
	"github.com/smallbiznis/contentgate/internal/authorization"
	"github.com/smallbiznis/contentgate/internal/capability"
	"github.com/smallbiznis/contentgate/internal/clock"
	"github.com/smallbiznis/contentgate/internal/config"
	"github.com/smallbiznis/contentgate/internal/gate"
	"github.com/smallbiznis/contentgate/internal/identity"
	modrepository "github.com/smallbiznis/contentgate/internal/moderation/repository"
	modservice "github.com/smallbiznis/contentgate/internal/moderation/service"
	quotarepository "github.com/smallbiznis/contentgate/internal/quota/repository"
	quotaservice "github.com/smallbiznis/contentgate/internal/quota/service"
	"github.com/smallbiznis/contentgate/internal/storetest"
	subdomain "github.com/smallbiznis/contentgate/internal/submission/domain"
	subrepository "github.com/smallbiznis/contentgate/internal/submission/repository"
	subservice "github.com/smallbiznis/contentgate/internal/submission/service"
	"github.com/smallbiznis/contentgate/internal/tier"
	"github.com/smallbiznis/contentgate/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = identity.Caller{UserID: "alice", Role: identity.RoleUser, Tier: tier.Free}
	bob   = identity.Caller{UserID: "bob", Role: identity.RoleUser, Tier: tier.Free}
	admin = identity.Caller{UserID: "admin", Role: identity.RoleAdmin, Tier: tier.Premium}
)

type testServer struct {
	engine   *gin.Engine
	verifier *identity.Verifier
	issuer   *capability.Issuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := storetest.Open(t)
	node := storetest.Node(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC))
	cfg := config.Config{
		AuthJWTSecret:   "test-auth-secret",
		GateCallTimeout: time.Second,
		Capability: config.CapabilityConfig{
			Secret: "test-capability-secret",
			Issuer: "contentgate-test",
			TTL:    time.Minute,
		},
	}

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
	quotaSvc := quotaservice.NewService(quotaservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     quotarepository.Provide(),
		Policy:   tier.StaticPolicy(tier.DefaultLimits()),
		Clock:    fake,
		AuditSvc: auditSvc,
	})
	submissions := subservice.NewService(subservice.Params{
		DB:       conn,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     subrepository.Provide(),
		Authz:    authz,
		Clock:    fake,
		AuditSvc: auditSvc,
	})
	issuer, err := capability.NewIssuer(cfg, fake)
	require.NoError(t, err)
	verifier, err := identity.NewVerifier(cfg, fake)
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:           engine,
		Cfg:           cfg,
		DB:            conn,
		Clock:         fake,
		Verifier:      verifier,
		AuthzSvc:      authz,
		AuditSvc:      auditSvc,
		SubmissionSvc: submissions,
		ModerationSvc: modservice.NewService(modservice.Params{
			DB:    conn,
			Log:   zap.NewNop(),
			Repo:  modrepository.Provide(),
			Authz: authz,
		}),
		QuotaSvc: quotaSvc,
		Gate: gate.New(gate.Params{
			Log:         zap.NewNop(),
			Config:      cfg,
			GenID:       node,
			Clock:       fake,
			Quota:       quotaSvc,
			Submissions: submissions,
			Issuer:      issuer,
		}),
		Capabilities: issuer,
	})

	return &testServer{engine: engine, verifier: verifier, issuer: issuer}
}

func (ts *testServer) do(t *testing.T, caller *identity.Caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if caller != nil {
		token, err := ts.verifier.Sign(*caller, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (ts *testServer) upload(t *testing.T, caller identity.Caller) string {
	t.Helper()
	rec := ts.do(t, &caller, http.MethodPost, "/api/submissions", gin.H{"kind": "book", "resource_ref": "s3://books/1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	submission := decode(t, rec)["submission"].(map[string]any)
	return submission["id"].(string)
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	payload := decode(t, rec)["error"].(map[string]any)
	return payload["type"].(string)
}

func TestUploadReviewDownloadFlow(t *testing.T) {
	ts := newTestServer(t)

	id := ts.upload(t, alice)

	rec := ts.do(t, &alice, http.MethodPost, "/api/submissions", gin.H{"kind": "summary"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	payload := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "quota_exceeded", payload["type"])
	quota := payload["details"].(map[string]any)["quota"].(map[string]any)
	assert.Equal(t, "upload", quota["action"])
	assert.EqualValues(t, 1, quota["used"])

	rec = ts.do(t, &bob, http.MethodPost, "/api/submissions/"+id+"/download", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_approved", errorType(t, rec))

	rec = ts.do(t, &alice, http.MethodPost, "/api/submissions/"+id+"/approve", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodPost, "/api/submissions/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", decode(t, rec)["data"].(map[string]any)["status"])

	rec = ts.do(t, &admin, http.MethodPost, "/api/submissions/"+id+"/approve", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", errorType(t, rec))

	rec = ts.do(t, &bob, http.MethodPost, "/api/submissions/"+id+"/download", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	grant := decode(t, rec)
	token := grant["token"].(string)
	require.NotEmpty(t, token)

	rec = ts.do(t, nil, http.MethodPost, "/internal/capabilities/verify", gin.H{"token": token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode(t, rec)
	assert.Equal(t, id, verified["submission_id"])
	assert.Equal(t, "bob", verified["user_id"])

	rec = ts.do(t, &bob, http.MethodPost, "/api/submissions/"+id+"/download", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "quota_exceeded", errorType(t, rec))
}

func TestRejectAndResubmit(t *testing.T) {
	ts := newTestServer(t)
	id := ts.upload(t, alice)

	rec := ts.do(t, &admin, http.MethodPost, "/api/submissions/"+id+"/reject", gin.H{"reason": " "})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &admin, http.MethodPost, "/api/submissions/"+id+"/reject", gin.H{"reason": "blurry scan"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", decode(t, rec)["data"].(map[string]any)["status"])

	rec = ts.do(t, &bob, http.MethodPost, "/api/submissions/"+id+"/resubmit", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &alice, http.MethodPost, "/api/submissions/"+id+"/resubmit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "pending", decode(t, rec)["data"].(map[string]any)["status"])

	rec = ts.do(t, &alice, http.MethodGet, "/api/submissions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"].([]any), 3)
}

func TestModerationQueue(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, alice)
	ts.upload(t, bob)

	rec := ts.do(t, &alice, http.MethodGet, "/api/submissions", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/submissions?status=pending&page_size=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["items"].([]any), 1)
	assert.EqualValues(t, 2, body["total_count"])

	rec = ts.do(t, &admin, http.MethodGet, "/api/submissions?status=archived", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/submissions?created_from=2026-03-05&created_to=2026-03-01", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/submissions?created_from=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVisibilityAndRemoval(t *testing.T) {
	ts := newTestServer(t)
	id := ts.upload(t, alice)

	rec := ts.do(t, &bob, http.MethodGet, "/api/submissions/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &alice, http.MethodGet, "/api/submissions/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &alice, http.MethodDelete, "/api/submissions/"+id, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodDelete, "/api/submissions/"+id, gin.H{"reason": "copyright"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, &alice, http.MethodGet, "/api/submissions/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &alice, http.MethodGet, "/api/submissions/not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuotaSummary(t *testing.T) {
	ts := newTestServer(t)
	ts.upload(t, alice)

	rec := ts.do(t, &alice, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "alice", data["user_id"])
	assert.Equal(t, "2026-04-01T00:00:00Z", data["resets_at"])

	actions := data["actions"].([]any)
	require.NotEmpty(t, actions)
	for _, raw := range actions {
		action := raw.(map[string]any)
		if action["action"] == "upload" {
			assert.EqualValues(t, 1, action["used"])
			assert.EqualValues(t, 0, action["remaining"])
		}
	}
}

func TestAuditLogsRequireAdmin(t *testing.T) {
	ts := newTestServer(t)
	id := ts.upload(t, alice)
	rec := ts.do(t, &admin, http.MethodPost, "/api/submissions/"+id+"/approve", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, &alice, http.MethodGet, "/api/audit-logs", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &admin, http.MethodGet, "/api/audit-logs?action=submission.approve", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"].([]any), 1)
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/api/quota", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/quota", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, nil, http.MethodPost, "/internal/capabilities/verify", gin.H{"token": "forged"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMapErrorUnavailable(t *testing.T) {
	status, payload := mapError(db.WrapUnavailable(errors.New("connection refused")))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "service_unavailable", payload.Type)

	status, payload = mapError(gate.ErrCapabilityUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = mapError(subdomain.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, status)

	status, payload = mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", payload.Type)
}
