package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/console/handler"
	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/engine"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

type fakeChat struct{ last service.ChatRequest }

func (f *fakeChat) Chat(ctx context.Context, req service.ChatRequest) (*service.ChatResponse, error) {
	if req.Message == "" {
		return nil, domain.ErrValidation
	}
	f.last = req
	return &service.ChatResponse{Response: "hi " + req.UserID, TraceID: domain.CallerFromContext(ctx).TraceID}, nil
}

func (f *fakeChat) History(context.Context, string) ([]llm.Message, error) {
	return []llm.Message{{Role: llm.RoleUser, Content: "earlier"}}, nil
}

func (f *fakeChat) ClearHistory(context.Context, string) error { return nil }

type fakeApprovals struct{ reviewer string }

func (f *fakeApprovals) Pending(context.Context) ([]*domain.ApprovalRequest, error) {
	return []*domain.ApprovalRequest{{ID: "a1", Status: domain.StatusPending}}, nil
}

func (f *fakeApprovals) Get(_ context.Context, id string) (*domain.ApprovalRequest, error) {
	if id != "a1" {
		return nil, domain.ErrApprovalNotFound
	}
	return &domain.ApprovalRequest{ID: id, Status: domain.StatusPending}, nil
}

func (f *fakeApprovals) Decide(_ context.Context, id string, approved bool, reviewer, _ string) (*domain.ApprovalRequest, error) {
	if f.reviewer != "" {
		return nil, domain.ErrAlreadyProcessed
	}
	f.reviewer = reviewer
	status := domain.StatusDenied
	if approved {
		status = domain.StatusApproved
	}
	return &domain.ApprovalRequest{ID: id, Status: status, ResolvedBy: reviewer}, nil
}

type fakePolicy struct{ reloadErr error }

func (f *fakePolicy) Reload(context.Context) error { return f.reloadErr }

func (f *fakePolicy) Evaluate(req service.EvaluateRequest) (domain.PolicyResult, error) {
	return domain.PolicyResult{Zone: domain.ZoneSandbox, Decision: domain.DecisionAllow, Reason: req.Kind}, nil
}

type fakeControl struct{ disabled []string }

func (f *fakeControl) Skills() []service.SkillInfo { return []service.SkillInfo{{Name: "recall"}} }

func (f *fakeControl) SetSkillEnabled(_ context.Context, name string, enabled bool) error {
	if name != "recall" {
		return domain.ErrNotFound
	}
	if !enabled {
		f.disabled = append(f.disabled, name)
	}
	return nil
}

func (f *fakeControl) Quarantined() []string { return []string{} }

func (f *fakeControl) SetQuarantine(context.Context, string, bool) error { return nil }

type fakeAudit struct{}

func (fakeAudit) Recent(context.Context, string, int) ([]audit.SkillCallEvent, error) {
	return []audit.SkillCallEvent{{ID: "e1", Skill: "recall"}}, nil
}

func (fakeAudit) Stats(context.Context) (audit.SkillStats, error) {
	return audit.SkillStats{"recall": {"success": 3}}, nil
}

func (fakeAudit) Overview(context.Context) (*domain.Overview, error) {
	return &domain.Overview{Activity: domain.ActivityStats{TotalCalls: 3}}, nil
}

type fixture struct {
	srv       *Server
	issuer    *auth.Issuer
	chat      *fakeChat
	approvals *fakeApprovals
	control   *fakeControl
	policy    *fakePolicy
}

func newFixture(t *testing.T, withTokens bool) *fixture {
	t.Helper()
	hash, err := auth.HashAPIKey("caller-key")
	require.NoError(t, err)

	f := &fixture{chat: &fakeChat{}, approvals: &fakeApprovals{}, control: &fakeControl{}, policy: &fakePolicy{}}
	opts := Options{APIKeyHash: hash, Gatherer: prometheus.NewRegistry()}
	if withTokens {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		f.issuer = auth.NewIssuer(key)
		opts.Validator = auth.NewValidator(&key.PublicKey)
	}
	f.srv = New(Handlers{
		Chat:      handler.NewChatHandler(f.chat),
		Approvals: handler.NewApprovalHandler(f.approvals),
		Policy:    handler.NewPolicyHandler(f.policy),
		Control:   handler.NewControlHandler(f.control),
		Audit:     handler.NewAuditHandler(fakeAudit{}),
	}, opts, zaptest.NewLogger(t))
	return f
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, r)
	return rec
}

func (f *fixture) bearer(t *testing.T, user string, scopes ...string) map[string]string {
	t.Helper()
	tok, err := f.issuer.Issue(user, scopes, time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + tok}
}

var callerKey = map[string]string{auth.APIKeyHeader: "caller-key"}

func TestPublicRoutes(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/metrics", "", nil).Code)
}

func TestHealthReportsStoreFailure(t *testing.T) {
	f := newFixture(t, false)
	f.srv.opts.Health = func(context.Context) error { return errors.New("redis down") }
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/health", "", nil).Code)
}

func TestChatRoute(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(http.MethodPost, "/v1/chat", `{"message":"hello","user_id":"alice"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/v1/chat", `{"message":"hello","user_id":"alice"}`,
		map[string]string{auth.APIKeyHeader: "caller-key", engine.TraceHeader: "trace-9"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp service.ChatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "hi alice", resp.Response)
	assert.Equal(t, "trace-9", resp.TraceID)
	assert.Equal(t, "trace-9", rec.Header().Get(engine.TraceHeader))

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/chat", `{"message":""}`, callerKey).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/chat", `not json`, callerKey).Code)

	rec = f.do(http.MethodGet, "/v1/chat/history/alice", "", callerKey)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "earlier")
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/v1/chat/history/alice", "", callerKey).Code)
}

func TestOperatorRoutesWithTokens(t *testing.T) {
	f := newFixture(t, true)

	// the caller api key is not an operator credential
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/approvals", "", callerKey).Code)

	approver := f.bearer(t, "op-1", domain.ScopeApprovals)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/approvals", "", approver).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/approvals/a1", "", approver).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/approvals/zz", "", approver).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/v1/skills", "", approver).Code)

	rec := f.do(http.MethodPost, "/v1/approvals/a1/respond", `{"approved":true,"reviewer":"spoofed"}`, approver)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "op-1", f.approvals.reviewer, "reviewer comes from the token")

	rec = f.do(http.MethodPost, "/v1/approvals/a1/respond", `{"approved":false}`, approver)
	assert.Equal(t, http.StatusConflict, rec.Code)

	admin := f.bearer(t, "root", domain.ScopeAdmin)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/skills", "", admin).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/v1/skills/recall/disable", "", admin).Code)
	assert.Equal(t, []string{"recall"}, f.control.disabled)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/v1/skills/nope/disable", "", admin).Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodPost, "/v1/callers/mallory/quarantine", "", admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/audit?skill=recall&limit=5", "", admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/audit/stats", "", admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/overview", "", admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/policy/evaluate", `{"kind":"shell","command":"ls"}`, admin).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/v1/policy/reload", "", admin).Code)

	f.policy.reloadErr = domain.ErrConfig
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/v1/policy/reload", "", admin).Code)
}

func TestOperatorRoutesFallBackToAPIKey(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/v1/approvals", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/v1/skills", "", callerKey).Code)

	rec := f.do(http.MethodPost, "/v1/approvals/a1/respond", `{"approved":true,"reviewer":"alice"}`, callerKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", f.approvals.reviewer)
}
