package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

// ApprovalStore is the operator side of the approval gate (*approval.Gate).
type ApprovalStore interface {
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	GetPending(ctx context.Context) ([]*domain.ApprovalRequest, error)
	Resolve(ctx context.Context, id string, status domain.ApprovalStatus, resolvedBy string) error
}

type ApprovalService struct {
	store  ApprovalStore
	logger *zap.Logger
}

func NewApprovalService(store ApprovalStore, logger *zap.Logger) *ApprovalService {
	return &ApprovalService{store: store, logger: logger.Named("approval-service")}
}

func (s *ApprovalService) Pending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	list, err := s.store.GetPending(ctx)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*domain.ApprovalRequest{}
	}
	return list, nil
}

func (s *ApprovalService) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	return s.store.Get(ctx, id)
}

// Decide records an operator decision and returns the resolved request.
// reviewer is kept for accountability.
func (s *ApprovalService) Decide(ctx context.Context, id string, approved bool, reviewer, comment string) (*domain.ApprovalRequest, error) {
	if reviewer == "" {
		return nil, fmt.Errorf("%w: reviewer is required", domain.ErrValidation)
	}
	status := domain.StatusDenied
	if approved {
		status = domain.StatusApproved
	}

	if err := s.store.Resolve(ctx, id, status, reviewer); err != nil {
		s.logger.Warn("approval decision rejected",
			zap.String("approval_id", id), zap.String("reviewer", reviewer), zap.Error(err))
		return nil, err
	}
	s.logger.Info("HITL decision recorded",
		zap.String("approval_id", id),
		zap.String("reviewer", reviewer),
		zap.String("result", string(status)),
		zap.String("comment", comment))

	return s.store.Get(ctx, id)
}
