package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/approval"
	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

// Outcome classifies how a skill call ended.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeDisabled         Outcome = "disabled"
	OutcomeRateLimited      Outcome = "rate_limited"
	OutcomeValidationFailed Outcome = "validation_failed"
	OutcomePolicyDenied     Outcome = "policy_denied"
	OutcomeApprovalDenied   Outcome = "approval_denied"
	OutcomeApprovalTimeout  Outcome = "approval_timeout"
	OutcomeExecutionError   Outcome = "execution_error"
)

// Result is what the tool loop hands back to the model. Output is never empty.
type Result struct {
	Output   string
	Outcome  Outcome
	Duration time.Duration // Execute only
	// ApprovalID is set when the call went through the approval gate.
	ApprovalID string
}

// Approver is the part of the approval gate the pipeline waits on.
type Approver interface {
	Create(ctx context.Context, nr approval.NewRequest) (*domain.ApprovalRequest, error)
	WaitForResolution(ctx context.Context, id string, timeout time.Duration) (domain.ApprovalStatus, error)
}

// Switch answers membership for operator toggles (kill-switch, quarantine).
type Switch interface {
	Contains(id string) bool
}

// Pipeline is the single path every skill invocation takes:
// kill-switch, rate limit, validation, authorization (and approval), execution,
// sanitization, recording. ExecuteSkill never returns an error and never panics.
type Pipeline struct {
	policy     policy.Enforcer
	approver   Approver
	auditor    audit.Auditor
	killSwitch Switch
	quarantine Switch
	metrics    *Metrics
	logger     *zap.Logger
}

type PipelineOption func(*Pipeline)

func WithAuditor(a audit.Auditor) PipelineOption { return func(p *Pipeline) { p.auditor = a } }

func WithKillSwitch(s Switch) PipelineOption { return func(p *Pipeline) { p.killSwitch = s } }

func WithQuarantine(s Switch) PipelineOption { return func(p *Pipeline) { p.quarantine = s } }

func WithMetrics(m *Metrics) PipelineOption { return func(p *Pipeline) { p.metrics = m } }

func NewPipeline(enforcer policy.Enforcer, approver Approver, logger *zap.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		policy:   enforcer,
		approver: approver,
		logger:   logger.Named("pipeline"),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// ExecuteSkill runs one skill call for caller.
func (p *Pipeline) ExecuteSkill(ctx context.Context, skill skills.Skill, params map[string]any, caller domain.Caller) (res Result) {
	name := "unknown"
	ev := audit.SkillCallEvent{
		ID:      uuid.New().String(),
		TraceID: caller.TraceID,
		UserID:  caller.UserID,
		Channel: caller.Channel,
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panic", zap.String("skill", name), zap.Any("panic", r))
			res = Result{Output: fmt.Sprintf("[%s] Internal error: %v", name, r), Outcome: OutcomeExecutionError}
			ev.Error = fmt.Sprint(r)
		}
		if res.Output == "" {
			res.Output = fmt.Sprintf("[%s] (no output)", name)
		}
		ev.Skill = name
		p.record(ev, res)
	}()

	meta := skill.Metadata()
	name = meta.Name
	ev.Params = audit.RedactParams(params)
	ev.RiskLevel = string(meta.RiskLevel)

	// 0. Kill-switch (in-memory, cheapest)
	if p.killSwitch != nil && p.killSwitch.Contains(name) {
		return Result{Output: fmt.Sprintf("[%s] Skill is disabled by the operator.", name), Outcome: OutcomeDisabled}
	}

	// 1. Rate limit
	if rl := p.policy.CheckRateLimit(ctx, meta.LimitKey()); !rl.Allowed() {
		ev.Error = rl.Reason
		return Result{Output: fmt.Sprintf("[%s] Rate limit reached. Try again later.", name), Outcome: OutcomeRateLimited}
	}

	// 2. Validate
	if r, failed := p.validate(skill, name, params, "Invalid parameters"); failed {
		ev.Error = r.Output
		return r
	}

	// 3. Authorization and approval
	decision := p.authorize(ctx, skill, meta, params)
	ev.Zone = string(decision.Zone)
	ev.RiskLevel = string(decision.RiskLevel)
	if decision.Denied() {
		ev.Error = decision.Reason
		return Result{Output: fmt.Sprintf("[%s] Policy denied: %s", name, decision.Reason), Outcome: OutcomePolicyDenied}
	}

	quarantined := p.quarantine != nil && p.quarantine.Contains(caller.UserID)
	if decision.NeedsApproval() || meta.RequiresApproval || quarantined {
		r, approved := p.awaitApproval(ctx, skill, meta, params, decision, caller, quarantined)
		ev.ApprovalID = r.ApprovalID
		if !approved {
			ev.Error = r.Output
			return r
		}
		// params may be stale after a long wait
		if vr, failed := p.validate(skill, name, params, "Invalid parameters after approval"); failed {
			vr.ApprovalID = r.ApprovalID
			ev.Error = vr.Output
			return vr
		}
		res.ApprovalID = r.ApprovalID
	}

	// 4. Execute
	start := time.Now()
	result, err := p.execute(domain.WithCaller(ctx, caller), skill, params)
	res.Duration = time.Since(start)
	ev.DurationMs = res.Duration.Milliseconds()
	p.metrics.SkillDuration.WithLabelValues(name).Observe(res.Duration.Seconds())

	if err != nil {
		ev.Error = err.Error()
		res.Outcome = OutcomeExecutionError
		res.Output = fmt.Sprintf("[%s] Execution error: %s", name, skills.StripControl(err.Error()))
		if errors.Is(err, domain.ErrPolicyDenied) {
			res.Outcome = OutcomePolicyDenied
			res.Output = fmt.Sprintf("[%s] Policy denied: %s", name, trimSentinel(err, domain.ErrPolicyDenied))
		}
		// partial results are still shown, sanitized
		if result != nil {
			if partial, serr := p.sanitize(skill, result); serr == nil && partial != "" {
				res.Output += "\n" + partial
			}
		}
		return res
	}

	// 5. Sanitize
	out, serr := p.sanitize(skill, result)
	if serr != nil {
		ev.Error = serr.Error()
		res.Outcome = OutcomeExecutionError
		res.Output = fmt.Sprintf("[%s] Output sanitization error: %v", name, serr)
		return res
	}

	res.Outcome = OutcomeSuccess
	res.Output = out
	return res
}

func (p *Pipeline) validate(skill skills.Skill, name string, params map[string]any, prefix string) (res Result, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Output: fmt.Sprintf("[%s] Validation error: %v", name, r), Outcome: OutcomeValidationFailed}
			failed = true
		}
	}()
	if err := skill.Validate(params); err != nil {
		return Result{
			Output:  fmt.Sprintf("[%s] %s: %s", name, prefix, trimSentinel(err, domain.ErrValidation)),
			Outcome: OutcomeValidationFailed,
		}, true
	}
	return Result{}, false
}

// authorize asks the skill for an argument-dependent decision. Skills without
// one are allowed at their declared risk; a panicking authorizer denies.
func (p *Pipeline) authorize(ctx context.Context, skill skills.Skill, meta skills.Metadata, params map[string]any) (res domain.PolicyResult) {
	az, ok := skill.(skills.Authorizer)
	if !ok {
		return domain.PolicyResult{
			Zone: domain.ZoneSandbox, Action: domain.ActionSkill, Decision: domain.DecisionAllow,
			RiskLevel: meta.RiskLevel, Reason: "no argument-dependent policy",
		}
	}
	defer func() {
		if r := recover(); r != nil {
			res = domain.PolicyResult{
				Zone: domain.ZoneUnknown, Action: domain.ActionSkill, Decision: domain.DecisionDeny,
				RiskLevel: domain.RiskHigh, Reason: fmt.Sprintf("authorization failed: %v", r),
			}
		}
	}()
	return az.Authorize(ctx, params)
}

func (p *Pipeline) awaitApproval(
	ctx context.Context,
	skill skills.Skill,
	meta skills.Metadata,
	params map[string]any,
	decision domain.PolicyResult,
	caller domain.Caller,
	quarantined bool,
) (Result, bool) {
	name := meta.Name
	if p.approver == nil {
		return Result{
			Output:  fmt.Sprintf("[%s] Policy denied: approval required but no approval channel is configured.", name),
			Outcome: OutcomePolicyDenied,
		}, false
	}

	target, proposed := name, ""
	if d, ok := skill.(skills.ApprovalDescriber); ok {
		target, proposed = d.DescribeApproval(params)
	}
	reason := decision.Reason
	if quarantined {
		reason = "caller is quarantined"
	} else if !decision.NeedsApproval() {
		reason = "skill always requires approval"
	}
	risk := decision.RiskLevel
	if risk == "" {
		risk = meta.RiskLevel
	}

	timeout := p.policy.ApprovalTimeout()
	req, err := p.approver.Create(ctx, approval.NewRequest{
		Action:          fmt.Sprintf("skill:%s:%s", name, decision.Action),
		Zone:            decision.Zone,
		RiskLevel:       risk,
		Description:     fmt.Sprintf("Execute skill '%s' for user %s (%s)", name, caller.UserID, reason),
		Target:          target,
		ProposedContent: proposed,
		Timeout:         timeout,
	})
	if err != nil {
		p.metrics.Approvals.WithLabelValues(name, "error").Inc()
		return Result{Output: fmt.Sprintf("[%s] Approval error: %v", name, err), Outcome: OutcomeApprovalDenied}, false
	}

	p.logger.Info("waiting for approval",
		zap.String("skill", name), zap.String("approval_id", req.ID),
		zap.String("user_id", caller.UserID), zap.Duration("timeout", timeout))

	status, err := p.approver.WaitForResolution(ctx, req.ID, timeout)
	if err != nil {
		p.metrics.Approvals.WithLabelValues(name, "error").Inc()
		return Result{
			Output: fmt.Sprintf("[%s] Approval error: %v", name, err), Outcome: OutcomeApprovalDenied, ApprovalID: req.ID,
		}, false
	}
	p.metrics.Approvals.WithLabelValues(name, string(status)).Inc()

	switch status {
	case domain.StatusApproved:
		return Result{ApprovalID: req.ID}, true
	case domain.StatusTimeout:
		return Result{
			Output:     fmt.Sprintf("[%s] Approval timed out after %s; the action was not executed.", name, timeout),
			Outcome:    OutcomeApprovalTimeout,
			ApprovalID: req.ID,
		}, false
	default:
		return Result{
			Output:     fmt.Sprintf("[%s] Skill execution was not approved.", name),
			Outcome:    OutcomeApprovalDenied,
			ApprovalID: req.ID,
		}, false
	}
}

func (p *Pipeline) execute(ctx context.Context, skill skills.Skill, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrExecution, r)
		}
	}()
	return skill.Execute(ctx, params)
}

func (p *Pipeline) sanitize(skill skills.Skill, result any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return skill.SanitizeOutput(result), nil
}

func (p *Pipeline) record(ev audit.SkillCallEvent, res Result) {
	ev.Outcome = string(res.Outcome)
	ev.Timestamp = time.Now()
	if ev.DurationMs == 0 {
		ev.DurationMs = res.Duration.Milliseconds()
	}
	if p.auditor != nil {
		p.auditor.Log(ev)
	}
	p.metrics.SkillCalls.WithLabelValues(ev.Skill, ev.Outcome).Inc()

	fields := []zap.Field{
		zap.String("skill", ev.Skill),
		zap.String("outcome", ev.Outcome),
		zap.String("user_id", ev.UserID),
		zap.String("trace_id", ev.TraceID),
		zap.Duration("duration", res.Duration),
	}
	if ev.ApprovalID != "" {
		fields = append(fields, zap.String("approval_id", ev.ApprovalID))
	}
	if res.Outcome == OutcomeSuccess {
		p.logger.Info("skill call", fields...)
		return
	}
	p.logger.Warn("skill call", append(fields, zap.String("error", ev.Error))...)
}

func trimSentinel(err, sentinel error) string {
	return strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
}
