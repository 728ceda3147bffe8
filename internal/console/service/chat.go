package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/engine"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

const (
	// ModelAliasReasoning selects the configured reasoning model.
	ModelAliasReasoning = "reasoning"
	defaultUserID       = "default"
	fallbackAnswer      = "The language model is unavailable right now. Please try again in a moment."
)

// Runner is the tool loop (*engine.ToolLoop).
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunResult, error)
}

type ChatConfig struct {
	SystemPrompt       string
	DefaultModel       string
	ReasoningModel     string
	ReasoningKeywords  []string
	HistoryTokenBudget int
}

type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	Model   string `json:"model"`
}

type ChatResponse struct {
	Response     string   `json:"response"`
	Model        string   `json:"model"`
	TraceID      string   `json:"trace_id"`
	Iterations   int      `json:"iterations"`
	SkillsCalled []string `json:"skills_called"`
}

// ChatService is one conversational turn: history, model routing, tool loop.
type ChatService struct {
	loop    Runner
	history HistoryStore
	cfg     ChatConfig
	logger  *zap.Logger
}

func NewChatService(loop Runner, history HistoryStore, cfg ChatConfig, logger *zap.Logger) *ChatService {
	return &ChatService{loop: loop, history: history, cfg: cfg, logger: logger.Named("chat")}
}

func (s *ChatService) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	caller := domain.CallerFromContext(ctx)
	caller.UserID = req.UserID
	if caller.UserID == "" {
		caller.UserID = defaultUserID
	}
	caller.Channel = req.Channel
	if caller.TraceID == "" {
		caller.TraceID = uuid.New().String()
	}
	ctx = domain.WithCaller(ctx, caller)
	log := s.logger.With(zap.String("trace_id", caller.TraceID), zap.String("user_id", caller.UserID))

	history, err := s.history.Load(ctx, caller.UserID)
	if err != nil {
		// a lost history is not worth failing the turn
		log.Warn("history unavailable", zap.Error(err))
		history = nil
	}
	userMsg := llm.Message{Role: llm.RoleUser, Content: req.Message}
	turn := TruncateHistory(append(history, userMsg), s.cfg.HistoryTokenBudget)

	msgs := make([]llm.Message, 0, len(turn)+1)
	if s.cfg.SystemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	msgs = append(msgs, turn...)

	model := s.RouteModel(req.Message, req.Model)
	log.Info("chat request", zap.String("model", model), zap.Int("history", len(turn)-1))

	res, err := s.loop.Run(ctx, engine.RunRequest{Messages: msgs, Model: model, Caller: caller})
	if err != nil {
		log.Error("llm unavailable, answering with fallback", zap.Error(err))
		return &ChatResponse{Response: fallbackAnswer, Model: model, TraceID: caller.TraceID, SkillsCalled: []string{}}, nil
	}

	if err := s.history.Append(ctx, caller.UserID, userMsg,
		llm.Message{Role: llm.RoleAssistant, Content: res.Text}); err != nil {
		log.Warn("history not saved", zap.Error(err))
	}

	called := res.SkillsCalled
	if called == nil {
		called = []string{}
	}
	return &ChatResponse{
		Response:     res.Text,
		Model:        model,
		TraceID:      caller.TraceID,
		Iterations:   res.Iterations,
		SkillsCalled: called,
	}, nil
}

// RouteModel: explicit model wins, "reasoning" is an alias, otherwise keywords
// in the message pick the reasoning model.
func (s *ChatService) RouteModel(message, requested string) string {
	switch {
	case requested == ModelAliasReasoning && s.cfg.ReasoningModel != "":
		return s.cfg.ReasoningModel
	case requested != "" && requested != ModelAliasReasoning:
		return requested
	}
	if s.cfg.ReasoningModel != "" {
		lower := strings.ToLower(message)
		for _, kw := range s.cfg.ReasoningKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return s.cfg.ReasoningModel
			}
		}
	}
	return s.cfg.DefaultModel
}

func (s *ChatService) History(ctx context.Context, userID string) ([]llm.Message, error) {
	msgs, err := s.history.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *ChatService) ClearHistory(ctx context.Context, userID string) error {
	return s.history.Clear(ctx, userID)
}

// EstimateTokens is the usual four-characters-per-token guess.
func EstimateTokens(text string) int { return len(text) / 4 }

// TruncateHistory drops the oldest messages until the rest fits budget. The
// newest message is always kept. A budget <= 0 disables truncation.
func TruncateHistory(msgs []llm.Message, budget int) []llm.Message {
	if budget <= 0 || len(msgs) == 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= EstimateTokens(msgs[start].Content)
		start++
	}
	return msgs[start:]
}
