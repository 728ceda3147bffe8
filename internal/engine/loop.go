package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

const (
	DefaultMaxIterations = 5
	// MaxIterationsPrefix marks an answer forced by the global round cap.
	MaxIterationsPrefix = "[max iterations reached]"

	finalAnswerPrompt = "Please provide your final answer based on the information gathered so far."
	emptyFinalAnswer  = "I could not produce an answer from the information gathered so far."
	retryNudge        = "You have tools available (%s). Use them now to find a current answer " +
		"rather than relying on training data."
)

// refusalPattern catches a model claiming it cannot reach current information
// although it has tools for exactly that.
var refusalPattern = regexp.MustCompile(`(?i)don.t have real.time` +
	`|real.time capabilities` +
	`|real.time access` +
	`|training data` +
	`|knowledge cutoff` +
	`|can.t access the internet` +
	`|cannot access the internet` +
	`|no internet access` +
	`|not able to browse` +
	`|cannot browse` +
	`|don.t have access to current`)

// Executor runs one skill call; *Pipeline implements it.
type Executor interface {
	ExecuteSkill(ctx context.Context, skill skills.Skill, params map[string]any, caller domain.Caller) Result
}

var _ Executor = (*Pipeline)(nil)

// ToolLoop drives bounded rounds of LLM completions and tool calls.
type ToolLoop struct {
	client        llm.Client
	registry      *skills.Registry
	exec          Executor
	maxIterations int
	metrics       *Metrics
	logger        *zap.Logger
}

func NewToolLoop(client llm.Client, registry *skills.Registry, exec Executor, maxIterations int, metrics *Metrics, logger *zap.Logger) *ToolLoop {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &ToolLoop{
		client:        client,
		registry:      registry,
		exec:          exec,
		maxIterations: maxIterations,
		metrics:       metrics,
		logger:        logger.Named("tool-loop"),
	}
}

type RunRequest struct {
	Messages []llm.Message
	Model    string
	Caller   domain.Caller
	// NoTools sends a plain completion without the skill catalog.
	NoTools bool
}

type RunResult struct {
	Text string
	// Messages is the full conversation including tool turns. It is meant for
	// the next completion only, not for persistent history.
	Messages     []llm.Message
	Iterations   int
	SkillsCalled []string
	CapReached   bool
}

// Run returns an error only when the LLM backend fails. Every skill failure is
// fed back to the model as a tool result.
func (l *ToolLoop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	msgs := append([]llm.Message(nil), req.Messages...)
	log := l.logger.With(zap.String("trace_id", req.Caller.TraceID), zap.String("user_id", req.Caller.UserID))

	var tools []llm.Tool
	if !req.NoTools {
		tools = l.registry.Tools()
	}
	if len(tools) == 0 {
		resp, err := l.client.Chat(ctx, llm.ChatRequest{Model: req.Model, Messages: msgs})
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: resp.Message.Content})
		return &RunResult{Text: resp.Message.Content, Messages: msgs}, nil
	}

	perSkill := make(map[string]int)
	var called []string
	iteration := 0

	for iteration < l.maxIterations {
		resp, err := l.client.Chat(ctx, llm.ChatRequest{Model: req.Model, Messages: msgs, Tools: tools})
		if err != nil {
			return nil, err
		}
		msg := resp.Message

		if len(msg.ToolCalls) == 0 {
			text := msg.Content
			// one corrective retry, only before any tool has run
			if iteration == 0 && len(called) == 0 && refusalPattern.MatchString(text) {
				log.Info("model refused to use tools, nudging once")
				msgs = append(msgs,
					llm.Message{Role: llm.RoleAssistant, Content: text},
					llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf(retryNudge, strings.Join(l.registry.Names(), ", "))},
				)
				iteration++
				continue
			}

			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: text})
			l.metrics.LoopIterations.Observe(float64(iteration))
			return &RunResult{Text: text, Messages: msgs, Iterations: iteration, SkillsCalled: called}, nil
		}

		msg.Role = llm.RoleAssistant
		msgs = append(msgs, msg)

		for _, call := range msg.ToolCalls {
			out := l.dispatch(ctx, call, perSkill, &called, req.Caller)
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Content:    out,
				ToolName:   call.Function.Name,
				ToolCallID: call.ID,
			})
		}
		iteration++
	}

	// global cap: one last completion without tools
	log.Warn("max iterations reached, forcing final answer",
		zap.Int("iterations", iteration), zap.Strings("skills_called", called))
	l.metrics.LoopCapHits.WithLabelValues("global").Inc()
	l.metrics.LoopIterations.Observe(float64(iteration))

	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: finalAnswerPrompt})
	resp, err := l.client.Chat(ctx, llm.ChatRequest{Model: req.Model, Messages: msgs})
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		text = emptyFinalAnswer
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: text})
	return &RunResult{
		Text:         MaxIterationsPrefix + "\n" + text,
		Messages:     msgs,
		Iterations:   iteration,
		SkillsCalled: called,
		CapReached:   true,
	}, nil
}

// dispatch turns one tool call into the text the model sees.
func (l *ToolLoop) dispatch(ctx context.Context, call llm.ToolCall, perSkill map[string]int, called *[]string, caller domain.Caller) string {
	name := call.Function.Name
	skill, ok := l.registry.Get(name)
	if !ok {
		return fmt.Sprintf("[%s] Unknown skill, not registered.", name)
	}

	limit := skill.Metadata().CallsPerTurn()
	if perSkill[name] >= limit {
		l.metrics.LoopCapHits.WithLabelValues("per_skill").Inc()
		return fmt.Sprintf("[%s] Per-turn call limit (%d) reached. Try a different approach.", name, limit)
	}
	perSkill[name]++
	*called = append(*called, name)

	params, err := call.Function.DecodeArguments()
	if err != nil {
		return fmt.Sprintf("[%s] Invalid parameters: %s", name, trimSentinel(err, domain.ErrValidation))
	}
	return l.exec.ExecuteSkill(ctx, skill, params, caller).Output
}
