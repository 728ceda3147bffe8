package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra/auth"
)

// ApprovalService Описываем, что нам нужно от сервиса
type ApprovalService interface {
	Pending(ctx context.Context) ([]*domain.ApprovalRequest, error)
	Get(ctx context.Context, id string) (*domain.ApprovalRequest, error)
	Decide(ctx context.Context, id string, approved bool, reviewer, comment string) (*domain.ApprovalRequest, error)
}

type ApprovalHandler struct {
	service ApprovalService
}

func NewApprovalHandler(s ApprovalService) *ApprovalHandler {
	return &ApprovalHandler{service: s}
}

// List returns the pending queue, oldest first.
func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	approval, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, approval)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Comment  string `json:"comment"`
	// Reviewer is used only when the route is not behind operator tokens.
	Reviewer string `json:"reviewer"`
}

// Respond approves or denies a pending request.
// POST /v1/approvals/{id}/respond
func (h *ApprovalHandler) Respond(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reviewer := req.Reviewer
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		reviewer = claims.UserID
	}
	if reviewer == "" {
		reviewer = "api-key"
	}

	resolved, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), req.Approved, reviewer, req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
