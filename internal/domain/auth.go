package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// Operator scopes checked by the approval console.
const (
	ScopeApprovals = "approvals"
	ScopeAdmin     = "admin"
)

// CustomClaims are the claims of an RS256 operator token.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "admin": true или "approvals": true
	jwt.RegisteredClaims
}

// HasScope reports whether the token grants scope, admin implies everything.
func (c *CustomClaims) HasScope(scope string) bool {
	return c.Scopes[ScopeAdmin] || c.Scopes[scope]
}
