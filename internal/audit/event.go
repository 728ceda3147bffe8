package audit

import (
	"strings"
	"time"
	"unicode/utf8"
)

// SkillCallEvent is one pass through the execution pipeline.
type SkillCallEvent struct {
	ID         string         `json:"id"`
	TraceID    string         `json:"trace_id"`
	UserID     string         `json:"user_id"`
	Channel    string         `json:"channel,omitempty"`
	Skill      string         `json:"skill"`
	Params     map[string]any `json:"params,omitempty"` // redacted, see RedactParams
	Outcome    string         `json:"outcome"`
	Zone       string         `json:"zone,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	ApprovalID string         `json:"approval_id,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
}

const (
	redacted    = "***REDACTED***"
	maxFieldLen = 200
)

var sensitiveKeys = map[string]bool{
	"password": true, "token": true, "secret": true,
	"api_key": true, "apikey": true, "api_secret": true, "authorization": true,
}

// RedactParams returns a copy of params safe to persist: sensitive keys are
// masked at any depth and long strings are cut.
func RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return RedactParams(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = redactValue(e)
		}
		return cp
	case string:
		if utf8.RuneCountInString(t) > maxFieldLen {
			return string([]rune(t)[:maxFieldLen]) + "..."
		}
	}
	return v
}
