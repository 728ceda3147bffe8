package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 1000
	topSkills         = 5
)

// AuditReader is the read side of the audit trail (*audit.RedisStorage).
type AuditReader interface {
	Recent(ctx context.Context, skill string, limit int) ([]audit.SkillCallEvent, error)
	Stats(ctx context.Context) (audit.SkillStats, error)
}

type PendingLister interface {
	GetPending(ctx context.Context) ([]*domain.ApprovalRequest, error)
}

type AuditService struct {
	repo       AuditReader
	approvals  PendingLister
	killSwitch Toggle
	quarantine Toggle
}

func NewAuditService(repo AuditReader, approvals PendingLister, killSwitch, quarantine Toggle) *AuditService {
	return &AuditService{repo: repo, approvals: approvals, killSwitch: killSwitch, quarantine: quarantine}
}

func (s *AuditService) Recent(ctx context.Context, skill string, limit int) ([]audit.SkillCallEvent, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	limit = min(limit, maxAuditLimit)
	logs, err := s.repo.Recent(ctx, skill, limit)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	return logs, nil
}

func (s *AuditService) Stats(ctx context.Context) (audit.SkillStats, error) {
	return s.repo.Stats(ctx)
}

// Overview folds audit counters, pending approvals and operator toggles into
// one dashboard snapshot.
func (s *AuditService) Overview(ctx context.Context) (*domain.Overview, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit_service: stats: %w", err)
	}
	pending, err := s.approvals.GetPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("audit_service: pending approvals: %w", err)
	}

	ov := &domain.Overview{}
	perSkill := make(map[string]int64, len(stats))
	for skill, outcomes := range stats {
		for outcome, n := range outcomes {
			ov.Activity.TotalCalls += n
			perSkill[skill] += n
			switch outcome {
			case "policy_denied", "approval_denied", "rate_limited", "disabled":
				ov.Incidents.DeniedCalls += n
			case "execution_error", "validation_failed", "approval_timeout":
				ov.Incidents.FailedCalls += n
			}
		}
	}
	ov.Activity.TopSkills = top(perSkill, topSkills)
	if ov.Activity.TotalCalls > 0 {
		ov.Incidents.RiskRatio = float64(ov.Incidents.DeniedCalls) / float64(ov.Activity.TotalCalls)
	}
	ov.Risks.PendingApprovals = len(pending)
	ov.Risks.QuarantinedCallers = s.quarantine.Members()
	ov.Incidents.DisabledSkills = s.killSwitch.Members()
	return ov, nil
}

// top keeps the n largest counters (ties broken by name).
func top(counts map[string]int64, n int) map[string]int64 {
	type kv struct {
		k string
		v int64
	}
	all := make([]kv, 0, len(counts))
	for k, v := range counts {
		all = append(all, kv{k, v})
	}
	slices.SortFunc(all, func(a, b kv) int {
		if a.v != b.v {
			return cmp.Compare(b.v, a.v)
		}
		return cmp.Compare(a.k, b.k)
	})
	out := make(map[string]int64, min(n, len(all)))
	for i := 0; i < len(all) && i < n; i++ {
		out[all[i].k] = all[i].v
	}
	return out
}
