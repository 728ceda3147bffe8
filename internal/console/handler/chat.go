package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/spaceai-agentcore/internal/console/service"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

type ChatService interface {
	Chat(ctx context.Context, req service.ChatRequest) (*service.ChatResponse, error)
	History(ctx context.Context, userID string) ([]llm.Message, error)
	ClearHistory(ctx context.Context, userID string) error
}

type ChatHandler struct {
	service ChatService
}

func NewChatHandler(s ChatService) *ChatHandler {
	return &ChatHandler{service: s}
}

// Chat runs one conversational turn.
// POST /v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := h.service.Chat(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /v1/chat/history/{userID}
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.service.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": msgs})
}

// DELETE /v1/chat/history/{userID}
func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearHistory(r.Context(), chi.URLParam(r, "userID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
