// Package skills defines the contract every agent capability implements and
// the registry the tool loop reads its catalog from.
package skills

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

// DefaultMaxCallsPerTurn applies when Metadata.MaxCallsPerTurn is zero.
const DefaultMaxCallsPerTurn = 5

// Metadata is the static description of a skill.
type Metadata struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object sent verbatim to the model.
	Parameters       map[string]any
	RiskLevel        domain.RiskLevel
	RateLimitKey     string
	RequiresApproval bool
	MaxCallsPerTurn  int
}

func (m Metadata) LimitKey() string {
	if m.RateLimitKey != "" {
		return m.RateLimitKey
	}
	return m.Name
}

func (m Metadata) CallsPerTurn() int {
	if m.MaxCallsPerTurn > 0 {
		return m.MaxCallsPerTurn
	}
	return DefaultMaxCallsPerTurn
}

// Tool renders the metadata in function-calling format.
func (m Metadata) Tool() llm.Tool {
	params := m.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.Tool{
		Type: "function",
		Function: llm.ToolFunction{
			Name:        m.Name,
			Description: m.Description,
			Parameters:  params,
		},
	}
}

// Skill is one capability the model may invoke. The execution pipeline is the
// only caller: it runs Validate, authorization, Execute and SanitizeOutput in
// that order and never lets an error or panic escape.
type Skill interface {
	Metadata() Metadata
	// Validate rejects malformed parameters with an error wrapping domain.ErrValidation.
	Validate(params map[string]any) error
	Execute(ctx context.Context, params map[string]any) (any, error)
	// SanitizeOutput turns any result, including a partial or nil one, into
	// text that is safe to hand back to the model.
	SanitizeOutput(result any) string
}

// Authorizer is implemented by skills whose risk depends on their arguments
// (which file, which URL, which command).
type Authorizer interface {
	Authorize(ctx context.Context, params map[string]any) domain.PolicyResult
}

// ApprovalDescriber lets a skill tell the human what exactly they approve.
type ApprovalDescriber interface {
	DescribeApproval(params map[string]any) (target, proposedContent string)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

func stringParam(params map[string]any, key string, required bool) (string, error) {
	v, ok := params[key]
	if !ok || v == nil {
		if required {
			return "", invalid("parameter '%s' is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid("parameter '%s' must be a string", key)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", invalid("parameter '%s' must not be empty", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalid("parameter '%s' is out of range", key)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, invalid("parameter '%s' must be an integer", key)
		}
		if n > math.MaxInt32 || n < math.MinInt32 {
			return 0, invalid("parameter '%s' is out of range", key)
		}
		return int(n), nil
	}
	return 0, invalid("parameter '%s' must be a number", key)
}

func enumParam(params map[string]any, key, def string, allowed ...string) (string, error) {
	s, err := stringParam(params, key, false)
	if err != nil {
		return "", err
	}
	if s == "" {
		return def, nil
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", invalid("parameter '%s' must be one of: %s", key, strings.Join(allowed, ", "))
}
