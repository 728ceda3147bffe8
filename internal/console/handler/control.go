package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
)

type ControlService interface {
	Skills() []service.SkillInfo
	SetSkillEnabled(ctx context.Context, name string, enabled bool) error
	Quarantined() []string
	SetQuarantine(ctx context.Context, userID string, on bool) error
}

// ControlHandler serves the skill kill-switch and caller quarantine.
type ControlHandler struct {
	service ControlService
}

func NewControlHandler(s ControlService) *ControlHandler {
	return &ControlHandler{service: s}
}

func (h *ControlHandler) ListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Skills())
}

func (h *ControlHandler) DisableSkill(w http.ResponseWriter, r *http.Request) {
	h.setSkill(w, r, false)
}

func (h *ControlHandler) EnableSkill(w http.ResponseWriter, r *http.Request) {
	h.setSkill(w, r, true)
}

func (h *ControlHandler) setSkill(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := h.service.SetSkillEnabled(r.Context(), chi.URLParam(r, "name"), enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ControlHandler) ListQuarantine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Quarantined())
}

func (h *ControlHandler) Quarantine(w http.ResponseWriter, r *http.Request) {
	h.setQuarantine(w, r, true)
}

func (h *ControlHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.setQuarantine(w, r, false)
}

func (h *ControlHandler) setQuarantine(w http.ResponseWriter, r *http.Request, on bool) {
	if err := h.service.SetQuarantine(r.Context(), chi.URLParam(r, "userID"), on); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
