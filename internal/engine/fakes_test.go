package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/spaceai-agentcore/internal/approval"
	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

// fakeEnforcer allows everything unless told otherwise.
type fakeEnforcer struct {
	rateDenied bool
	timeout    time.Duration
}

func (f *fakeEnforcer) ResolveZone(string) domain.Zone { return domain.ZoneSandbox }

func (f *fakeEnforcer) Canonicalize(p string) (string, error) { return p, nil }

func (f *fakeEnforcer) CheckFileAccess(string, domain.ActionType) domain.PolicyResult {
	return domain.PolicyResult{Decision: domain.DecisionAllow}
}

func (f *fakeEnforcer) CheckShellCommand(string) domain.PolicyResult {
	return domain.PolicyResult{Decision: domain.DecisionAllow}
}

func (f *fakeEnforcer) CheckHTTPAccess(string, string) domain.PolicyResult {
	return domain.PolicyResult{Decision: domain.DecisionAllow}
}

func (f *fakeEnforcer) CheckRateLimit(context.Context, string) domain.PolicyResult {
	if f.rateDenied {
		return domain.PolicyResult{Decision: domain.DecisionDeny, Reason: "rate limiter unavailable"}
	}
	return domain.PolicyResult{Decision: domain.DecisionAllow}
}

func (f *fakeEnforcer) ApprovalTimeout() time.Duration {
	if f.timeout > 0 {
		return f.timeout
	}
	return time.Second
}

func (f *fakeEnforcer) SandboxRoot() string { return "/tmp" }

// fakeSkill is configurable per test.
type fakeSkill struct {
	meta          skills.Metadata
	validate      func(params map[string]any, call int) error
	exec          func(ctx context.Context, params map[string]any) (any, error)
	sanitizePanic bool

	validations atomic.Int32
	executions  atomic.Int32
}

func newFakeSkill(name string) *fakeSkill {
	return &fakeSkill{meta: skills.Metadata{Name: name, RiskLevel: domain.RiskLow}}
}

func (s *fakeSkill) Metadata() skills.Metadata { return s.meta }

func (s *fakeSkill) Validate(params map[string]any) error {
	n := int(s.validations.Add(1))
	if s.validate != nil {
		return s.validate(params, n)
	}
	return nil
}

func (s *fakeSkill) Execute(ctx context.Context, params map[string]any) (any, error) {
	s.executions.Add(1)
	if s.exec != nil {
		return s.exec(ctx, params)
	}
	return "done", nil
}

func (s *fakeSkill) SanitizeOutput(result any) string {
	if s.sanitizePanic {
		panic("sanitizer exploded")
	}
	if str, ok := result.(string); ok {
		return str
	}
	return ""
}

// authorizingSkill adds an argument-dependent decision.
type authorizingSkill struct {
	*fakeSkill
	decision domain.PolicyResult
}

func (s authorizingSkill) Authorize(context.Context, map[string]any) domain.PolicyResult {
	return s.decision
}

// fakeApprover resolves every request with status (or err).
type fakeApprover struct {
	status domain.ApprovalStatus
	err    error

	mu      sync.Mutex
	created []approval.NewRequest
}

func (a *fakeApprover) Create(_ context.Context, nr approval.NewRequest) (*domain.ApprovalRequest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, nr)
	return &domain.ApprovalRequest{ID: "appr-1", Status: domain.StatusPending}, nil
}

func (a *fakeApprover) WaitForResolution(context.Context, string, time.Duration) (domain.ApprovalStatus, error) {
	return a.status, a.err
}

func (a *fakeApprover) requests() []approval.NewRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]approval.NewRequest(nil), a.created...)
}

type fakeSwitch map[string]bool

func (s fakeSwitch) Contains(id string) bool { return s[id] }

type memAuditor struct {
	mu     sync.Mutex
	events []audit.SkillCallEvent
}

func (m *memAuditor) Log(e audit.SkillCallEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *memAuditor) last() audit.SkillCallEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events[len(m.events)-1]
}

// scriptedLLM answers with reply(i, req) for the i-th call.
type scriptedLLM struct {
	reply func(i int, req llm.ChatRequest) (llm.Message, error)

	mu    sync.Mutex
	calls []llm.ChatRequest
}

func (s *scriptedLLM) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	i := len(s.calls)
	cp := req
	cp.Messages = append([]llm.Message(nil), req.Messages...)
	s.calls = append(s.calls, cp)
	s.mu.Unlock()

	msg, err := s.reply(i, req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Model: req.Model, Message: msg, Done: true}, nil
}

func (s *scriptedLLM) requests() []llm.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.ChatRequest(nil), s.calls...)
}

func toolCall(name, args string) llm.ToolCall {
	return llm.ToolCall{Function: llm.FunctionCall{Name: name, Arguments: []byte(args)}}
}

var errBoom = errors.New("boom")
