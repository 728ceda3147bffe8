package domain

import (
	"time"
)

// Статусы State Machine
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusTimeout  ApprovalStatus = "timeout"
)

// Terminal reports whether no further transition is possible.
func (s ApprovalStatus) Terminal() bool {
	return s == StatusApproved || s == StatusDenied || s == StatusTimeout
}

// ResolvedByTimeout is written into ResolvedBy when the gate expires a request itself.
const ResolvedByTimeout = "system:timeout"

// ApprovalRequest is one human sign-off request for a high-risk action.
type ApprovalRequest struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	Zone            Zone           `json:"zone"`
	RiskLevel       RiskLevel      `json:"risk_level"`
	Description     string         `json:"description"`
	Target          string         `json:"target"`
	ProposedContent string         `json:"proposed_content,omitempty"`
	Status          ApprovalStatus `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата
func (a *ApprovalRequest) CanTransitionTo(next ApprovalStatus) error {
	if !next.Terminal() {
		return ErrInvalidTransition
	}
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	return nil
}

// Expired reports whether the request outlived its deadline at the given time.
func (a *ApprovalRequest) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}
