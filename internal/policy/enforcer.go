package policy

import (
	"context"
	"time"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

// Enforcer is the read side of the engine consumed by skills and the pipeline.
// *Engine implements it; tests substitute their own.
type Enforcer interface {
	ResolveZone(path string) domain.Zone
	Canonicalize(path string) (string, error)
	CheckFileAccess(path string, action domain.ActionType) domain.PolicyResult
	CheckShellCommand(cmd string) domain.PolicyResult
	CheckHTTPAccess(rawURL, method string) domain.PolicyResult
	CheckRateLimit(ctx context.Context, key string) domain.PolicyResult
	ApprovalTimeout() time.Duration
	SandboxRoot() string
}

var _ Enforcer = (*Engine)(nil)
