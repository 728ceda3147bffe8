package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/spaceai-agentcore/internal/llm"
	"github.com/xela07ax/spaceai-agentcore/internal/skills"
)

func newTestLoop(t *testing.T, client llm.Client, maxIter int, ss ...skills.Skill) *ToolLoop {
	t.Helper()
	reg := skills.NewRegistry()
	reg.MustRegister(ss...)
	p := NewPipeline(&fakeEnforcer{}, nil, zaptest.NewLogger(t))
	return NewToolLoop(client, reg, p, maxIter, nil, zaptest.NewLogger(t))
}

func userTurn(text string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: text}}
}

func TestLoopAnswersWithoutTools(t *testing.T) {
	client := &scriptedLLM{reply: func(int, llm.ChatRequest) (llm.Message, error) {
		return llm.Message{Role: llm.RoleAssistant, Content: "Hello!"}, nil
	}}
	loop := newTestLoop(t, client, 5, newFakeSkill("search"))

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("hi"), Model: "m", Caller: alice})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Text)
	assert.Zero(t, res.Iterations)
	assert.False(t, res.CapReached)

	reqs := client.requests()
	require.Len(t, reqs, 1)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "m", reqs[0].Model)
}

func TestLoopNoToolsRequest(t *testing.T) {
	client := &scriptedLLM{reply: func(int, llm.ChatRequest) (llm.Message, error) {
		return llm.Message{Content: "plain"}, nil
	}}
	loop := newTestLoop(t, client, 5, newFakeSkill("search"))

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("hi"), NoTools: true})
	require.NoError(t, err)
	assert.Equal(t, "plain", res.Text)
	assert.Empty(t, client.requests()[0].Tools)
}

func TestLoopRunsToolThenAnswers(t *testing.T) {
	search := newFakeSkill("search")
	search.exec = func(_ context.Context, params map[string]any) (any, error) {
		return "result for " + params["q"].(string), nil
	}
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{ToolCalls: []llm.ToolCall{toolCall("search", `{"q":"go"}`)}}, nil
		}
		last := req.Messages[len(req.Messages)-1]
		return llm.Message{Content: "Found: " + last.Content}, nil
	}}
	loop := newTestLoop(t, client, 5, search)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("find go"), Caller: alice})
	require.NoError(t, err)
	assert.Equal(t, "Found: result for go", res.Text)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []string{"search"}, res.SkillsCalled)

	// user, assistant tool call, tool result, final answer
	require.Len(t, res.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, res.Messages[1].Role)
	assert.Equal(t, llm.RoleTool, res.Messages[2].Role)
	assert.Equal(t, "search", res.Messages[2].ToolName)
}

func TestLoopStringEncodedArguments(t *testing.T) {
	search := newFakeSkill("search")
	search.exec = func(_ context.Context, params map[string]any) (any, error) {
		return params["q"], nil
	}
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{ToolCalls: []llm.ToolCall{toolCall("search", `"{\"q\":\"weather\"}"`)}}, nil
		}
		return llm.Message{Content: req.Messages[len(req.Messages)-1].Content}, nil
	}}
	loop := newTestLoop(t, client, 5, search)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("weather?")})
	require.NoError(t, err)
	assert.Equal(t, "weather", res.Text)
}

func TestLoopPathologicalSkillHitsGlobalCap(t *testing.T) {
	search := newFakeSkill("search")
	search.meta.MaxCallsPerTurn = 2

	client := &scriptedLLM{reply: func(_ int, req llm.ChatRequest) (llm.Message, error) {
		if len(req.Tools) == 0 {
			return llm.Message{Content: "Best effort answer."}, nil
		}
		return llm.Message{ToolCalls: []llm.ToolCall{toolCall("search", `{"q":"again"}`)}}, nil
	}}
	loop := newTestLoop(t, client, 4, search)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("loop forever")})
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, MaxIterationsPrefix+"\nBest effort answer.", res.Text)
	assert.EqualValues(t, 2, search.executions.Load(), "per-turn cap stops execution")

	reqs := client.requests()
	require.Len(t, reqs, 5)
	final := reqs[4]
	assert.Empty(t, final.Tools)
	assert.Equal(t, finalAnswerPrompt, final.Messages[len(final.Messages)-1].Content)

	var capped int
	for _, m := range res.Messages {
		if m.Role == llm.RoleTool && strings.Contains(m.Content, "Per-turn call limit (2) reached") {
			capped++
		}
	}
	assert.Equal(t, 2, capped)
}

func TestLoopEmptyFinalAnswer(t *testing.T) {
	client := &scriptedLLM{reply: func(_ int, req llm.ChatRequest) (llm.Message, error) {
		if len(req.Tools) == 0 {
			return llm.Message{Content: "   "}, nil
		}
		return llm.Message{ToolCalls: []llm.ToolCall{toolCall("search", `{}`)}}, nil
	}}
	loop := newTestLoop(t, client, 1, newFakeSkill("search"))

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("?")})
	require.NoError(t, err)
	assert.Equal(t, MaxIterationsPrefix+"\n"+emptyFinalAnswer, res.Text)
}

func TestLoopPerSkillCapWithinOneResponse(t *testing.T) {
	search := newFakeSkill("search")
	search.meta.MaxCallsPerTurn = 1
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{ToolCalls: []llm.ToolCall{
				toolCall("search", `{"q":"a"}`),
				toolCall("search", `{"q":"b"}`),
			}}, nil
		}
		return llm.Message{Content: "ok"}, nil
	}}
	loop := newTestLoop(t, client, 5, search)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("two searches")})
	require.NoError(t, err)
	assert.EqualValues(t, 1, search.executions.Load())
	assert.Equal(t, "[search] Per-turn call limit (1) reached. Try a different approach.", res.Messages[3].Content)
}

func TestLoopUnknownSkillAndBadArguments(t *testing.T) {
	search := newFakeSkill("search")
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{ToolCalls: []llm.ToolCall{
				toolCall("rm_rf", `{}`),
				toolCall("search", `[1,2]`),
			}}, nil
		}
		return llm.Message{Content: "sorry"}, nil
	}}
	loop := newTestLoop(t, client, 5, search)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("x")})
	require.NoError(t, err)
	assert.Equal(t, "sorry", res.Text)
	assert.Equal(t, "[rm_rf] Unknown skill, not registered.", res.Messages[2].Content)
	assert.Equal(t, "[search] Invalid parameters: arguments must be a JSON object", res.Messages[3].Content)
	assert.Zero(t, search.executions.Load())
}

func TestLoopRefusalRetriedOnce(t *testing.T) {
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{Content: "I don't have real-time access to the news."}, nil
		}
		return llm.Message{Content: "Here is what I found."}, nil
	}}
	loop := newTestLoop(t, client, 5, newFakeSkill("url_fetch"), newFakeSkill("recall"))

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("news?")})
	require.NoError(t, err)
	assert.Equal(t, "Here is what I found.", res.Text)

	reqs := client.requests()
	require.Len(t, reqs, 2)
	nudge := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Equal(t, llm.RoleUser, nudge.Role)
	assert.Contains(t, nudge.Content, "url_fetch, recall")
}

func TestLoopRefusalNotRetriedTwice(t *testing.T) {
	client := &scriptedLLM{reply: func(int, llm.ChatRequest) (llm.Message, error) {
		return llm.Message{Content: "My knowledge cutoff prevents me from answering."}, nil
	}}
	loop := newTestLoop(t, client, 5, newFakeSkill("url_fetch"))

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("today?")})
	require.NoError(t, err)
	assert.Contains(t, res.Text, "knowledge cutoff")
	assert.Len(t, client.requests(), 2)
}

func TestLoopTransportError(t *testing.T) {
	client := &scriptedLLM{reply: func(int, llm.ChatRequest) (llm.Message, error) {
		return llm.Message{}, errBoom
	}}
	loop := newTestLoop(t, client, 5, newFakeSkill("search"))

	_, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("hi")})
	assert.True(t, errors.Is(err, errBoom))
}

func TestLoopSkillErrorsReachTheModel(t *testing.T) {
	broken := newFakeSkill("broken")
	broken.exec = func(context.Context, map[string]any) (any, error) { panic("nil map") }
	client := &scriptedLLM{reply: func(i int, req llm.ChatRequest) (llm.Message, error) {
		if i == 0 {
			return llm.Message{ToolCalls: []llm.ToolCall{toolCall("broken", `{}`)}}, nil
		}
		return llm.Message{Content: "The tool failed."}, nil
	}}
	loop := newTestLoop(t, client, 5, broken)

	res, err := loop.Run(context.Background(), RunRequest{Messages: userTurn("go")})
	require.NoError(t, err)
	assert.Equal(t, "The tool failed.", res.Text)
	assert.Contains(t, res.Messages[2].Content, "[broken] Execution error:")
}
