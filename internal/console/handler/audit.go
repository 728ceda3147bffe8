package handler

import (
	"context"
	"net/http"

	"github.com/xela07ax/spaceai-agentcore/internal/audit"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

type AuditService interface {
	Recent(ctx context.Context, skill string, limit int) ([]audit.SkillCallEvent, error)
	Stats(ctx context.Context) (audit.SkillStats, error)
	Overview(ctx context.Context) (*domain.Overview, error)
}

type AuditHandler struct {
	service AuditService
}

func NewAuditHandler(s AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetLogs возвращает последние вызовы навыков
// GET /v1/audit?skill=...&limit=...
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.service.Recent(r.Context(), r.URL.Query().Get("skill"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (h *AuditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AuditHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.Overview(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ov)
}
