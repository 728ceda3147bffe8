package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"github.com/xela07ax/spaceai-agentcore/internal/policy"
)

// ReloadableEnforcer is *policy.Engine.
type ReloadableEnforcer interface {
	policy.Enforcer
	Reload() error
}

type PolicyService struct {
	engine ReloadableEnforcer
	rdb    redis.UniversalClient
	source string
	logger *zap.Logger
}

// NewPolicyService; source names this instance in reload signals.
func NewPolicyService(engine ReloadableEnforcer, rdb redis.UniversalClient, source string, logger *zap.Logger) *PolicyService {
	return &PolicyService{engine: engine, rdb: rdb, source: source, logger: logger.Named("policy-service")}
}

// Reload re-reads the policy file here and then tells every other instance to do
// the same. A broken file is rejected locally and not broadcast.
func (s *PolicyService) Reload(ctx context.Context) error {
	if err := s.engine.Reload(); err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, s.source).Err(); err != nil {
		s.logger.Warn("policy reloaded locally but signal not delivered", zap.Error(err))
		return fmt.Errorf("policy reload signal: %w", err)
	}
	return nil
}

// EvaluateRequest asks what the policy would decide, without doing anything.
type EvaluateRequest struct {
	Kind    string `json:"kind"` // file, shell, http
	Path    string `json:"path,omitempty"`
	Action  string `json:"action,omitempty"` // read, write
	Command string `json:"command,omitempty"`
	URL     string `json:"url,omitempty"`
	Method  string `json:"method,omitempty"`
}

func (s *PolicyService) Evaluate(req EvaluateRequest) (domain.PolicyResult, error) {
	switch strings.ToLower(req.Kind) {
	case "file":
		if req.Path == "" {
			return domain.PolicyResult{}, fmt.Errorf("%w: path is required", domain.ErrValidation)
		}
		action := domain.ActionRead
		if strings.EqualFold(req.Action, string(domain.ActionWrite)) {
			action = domain.ActionWrite
		}
		return s.engine.CheckFileAccess(req.Path, action), nil
	case "shell":
		if req.Command == "" {
			return domain.PolicyResult{}, fmt.Errorf("%w: command is required", domain.ErrValidation)
		}
		return s.engine.CheckShellCommand(req.Command), nil
	case "http":
		if req.URL == "" {
			return domain.PolicyResult{}, fmt.Errorf("%w: url is required", domain.ErrValidation)
		}
		method := req.Method
		if method == "" {
			method = "GET"
		}
		return s.engine.CheckHTTPAccess(req.URL, strings.ToUpper(method)), nil
	default:
		return domain.PolicyResult{}, fmt.Errorf("%w: kind must be file, shell or http", domain.ErrValidation)
	}
}
