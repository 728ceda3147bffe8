package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

// Toggle is a cluster-wide id set (*engine.SignalSet).
type Toggle interface {
	Set(ctx context.Context, id string, on bool) error
	Contains(id string) bool
	Members() []string
}

type SkillInfo struct {
	Name             string           `json:"name"`
	Description      string           `json:"description"`
	RiskLevel        domain.RiskLevel `json:"risk_level"`
	RequiresApproval bool             `json:"requires_approval"`
	MaxCallsPerTurn  int              `json:"max_calls_per_turn"`
	Disabled         bool             `json:"disabled"`
}

// ControlService flips the kill-switch for skills and the quarantine for callers.
type ControlService struct {
	registry   *skills.Registry
	killSwitch Toggle
	quarantine Toggle
}

func NewControlService(registry *skills.Registry, killSwitch, quarantine Toggle) *ControlService {
	return &ControlService{registry: registry, killSwitch: killSwitch, quarantine: quarantine}
}

func (s *ControlService) Skills() []SkillInfo {
	all := s.registry.All()
	out := make([]SkillInfo, 0, len(all))
	for _, sk := range all {
		m := sk.Metadata()
		out = append(out, SkillInfo{
			Name:             m.Name,
			Description:      m.Description,
			RiskLevel:        m.RiskLevel,
			RequiresApproval: m.RequiresApproval,
			MaxCallsPerTurn:  m.CallsPerTurn(),
			Disabled:         s.killSwitch.Contains(m.Name),
		})
	}
	return out
}

func (s *ControlService) SetSkillEnabled(ctx context.Context, name string, enabled bool) error {
	if _, ok := s.registry.Get(name); !ok {
		return fmt.Errorf("%w: skill %q", domain.ErrNotFound, name)
	}
	return s.killSwitch.Set(ctx, name, !enabled)
}

func (s *ControlService) Quarantined() []string { return s.quarantine.Members() }

func (s *ControlService) SetQuarantine(ctx context.Context, userID string, on bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	return s.quarantine.Set(ctx, userID, on)
}
