package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

type PolicyService interface {
	Reload(ctx context.Context) error
	Evaluate(req service.EvaluateRequest) (domain.PolicyResult, error)
}

type PolicyHandler struct {
	service PolicyService
}

func NewPolicyHandler(s PolicyService) *PolicyHandler {
	return &PolicyHandler{service: s}
}

// Reload re-reads policy.yaml on every instance.
// POST /v1/policy/reload
func (h *PolicyHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reload(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// Evaluate answers what the current policy would decide.
// POST /v1/policy/evaluate
func (h *PolicyHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req service.EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := h.service.Evaluate(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
