package approval

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

// Hash fields of agentcore:approval:<id>.
const (
	fID              = "id"
	fAction          = "action"
	fZone            = "zone"
	fRisk            = "risk_level"
	fDescription     = "description"
	fTarget          = "target"
	fProposedContent = "proposed_content"
	fStatus          = "status"
	fCreatedAt       = "created_at"
	fExpiresAt       = "expires_at"
	fResolvedAt      = "resolved_at"
	fResolvedBy      = "resolved_by"
)

// resolveScript is the only way a record leaves pending. Resolution by a human
// and expiry by the gate both run it, so exactly one of them wins.
//
// KEYS[1] record hash, KEYS[2] pending index
// ARGV    status, resolved_at, resolved_by, id
// returns -1 missing, 0 not pending, 1 transitioned
var resolveScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if not s then
  return -1
end
if s ~= 'pending' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'resolved_at', ARGV[2], 'resolved_by', ARGV[3])
redis.call('SREM', KEYS[2], ARGV[4])
return 1
`)

func toHash(r *domain.ApprovalRequest) map[string]any {
	h := map[string]any{
		fID:          r.ID,
		fAction:      r.Action,
		fZone:        string(r.Zone),
		fRisk:        string(r.RiskLevel),
		fDescription: r.Description,
		fTarget:      r.Target,
		fStatus:      string(r.Status),
		fCreatedAt:   r.CreatedAt.Format(time.RFC3339Nano),
		fExpiresAt:   r.ExpiresAt.Format(time.RFC3339Nano),
	}
	if r.ProposedContent != "" {
		h[fProposedContent] = r.ProposedContent
	}
	return h
}

func fromHash(h map[string]string) *domain.ApprovalRequest {
	r := &domain.ApprovalRequest{
		ID:              h[fID],
		Action:          h[fAction],
		Zone:            domain.Zone(h[fZone]),
		RiskLevel:       domain.RiskLevel(h[fRisk]),
		Description:     h[fDescription],
		Target:          h[fTarget],
		ProposedContent: h[fProposedContent],
		Status:          domain.ApprovalStatus(h[fStatus]),
		ResolvedBy:      h[fResolvedBy],
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, h[fCreatedAt])
	r.ExpiresAt, _ = time.Parse(time.RFC3339Nano, h[fExpiresAt])
	if v := h[fResolvedAt]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			r.ResolvedAt = &t
		}
	}
	return r
}
