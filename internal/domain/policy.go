package domain

import "fmt"

// Zone is the trust region a resolved filesystem path (or outbound request) falls into.
type Zone string

const (
	ZoneSandbox  Zone = "sandbox"  // agent scratch space, full access
	ZoneIdentity Zone = "identity" // agent persona and memory files
	ZoneSystem   Zone = "system"   // application code, read-only
	ZoneExternal Zone = "external" // network targets
	ZoneUnknown  Zone = "unknown"  // anything else, deny-by-default
)

// ActionType classifies what a skill wants to do.
type ActionType string

const (
	ActionRead       ActionType = "read"
	ActionWrite      ActionType = "write"
	ActionExecute    ActionType = "execute"
	ActionHTTPGet    ActionType = "http_get"
	ActionHTTPPost   ActionType = "http_post"
	ActionHTTPPut    ActionType = "http_put"
	ActionHTTPPatch  ActionType = "http_patch"
	ActionHTTPDelete ActionType = "http_delete"
	ActionShell      ActionType = "shell"
	ActionRateLimit  ActionType = "rate_limit"
	ActionSkill      ActionType = "skill"
)

// Decision is the verdict of a policy check.
type Decision string

const (
	DecisionAllow            Decision = "allow"
	DecisionDeny             Decision = "deny"
	DecisionRequiresApproval Decision = "requires_approval"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ParseRiskLevel maps free-form config values onto a RiskLevel.
// Unknown values are treated as high.
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return RiskLevel(s)
	}
	return RiskHigh
}

// PolicyResult is returned by every policy check. A bare bool is never enough:
// callers need the zone and risk to build approval requests and audit records.
type PolicyResult struct {
	Zone      Zone       `json:"zone"`
	Action    ActionType `json:"action"`
	Decision  Decision   `json:"decision"`
	RiskLevel RiskLevel  `json:"risk_level"`
	Reason    string     `json:"reason"`
}

func (r PolicyResult) Allowed() bool       { return r.Decision == DecisionAllow }
func (r PolicyResult) Denied() bool        { return r.Decision == DecisionDeny }
func (r PolicyResult) NeedsApproval() bool { return r.Decision == DecisionRequiresApproval }

func (r PolicyResult) String() string {
	return fmt.Sprintf("%s %s in %s (%s risk): %s", r.Decision, r.Action, r.Zone, r.RiskLevel, r.Reason)
}
