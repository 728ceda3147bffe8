package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"go.uber.org/zap/zaptest"
)

func TestOllamaClient_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "llama3.1:8b",
			"done": true,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "file_read", "arguments": {"path": "notes.txt"}}}]
			}
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", 5*time.Second, 4096, zaptest.NewLogger(t))
	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "llama3.1:8b",
		Messages: []Message{{Role: RoleUser, Content: "read my notes"}},
		Tools: []Tool{{Type: "function", Function: ToolFunction{
			Name: "file_read", Description: "Read a file",
			Parameters: map[string]any{"type": "object"},
		}}},
	})
	require.NoError(t, err)

	assert.Equal(t, false, got["stream"])
	assert.Equal(t, float64(4096), got["options"].(map[string]any)["num_ctx"])
	assert.Len(t, got["tools"], 1)

	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0].Function
	assert.Equal(t, "file_read", call.Name)
	args, err := call.DecodeArguments()
	require.NoError(t, err)
	assert.Equal(t, "notes.txt", args["path"])
}

func TestOllamaClient_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, time.Second, 0, zaptest.NewLogger(t))
	_, err := c.Chat(context.Background(), ChatRequest{Model: "m"})

	var tErr *ThrottleError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 7*time.Second, tErr.RetryAfter)
}

func TestOllamaClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, time.Second, 0, zaptest.NewLogger(t))
	_, err := c.Chat(context.Background(), ChatRequest{Model: "missing"})

	var sErr *StatusError
	require.True(t, errors.As(err, &sErr))
	assert.Equal(t, http.StatusNotFound, sErr.Code)
	assert.False(t, sErr.Retryable())
	assert.Contains(t, sErr.Body, "model not found")
}

func TestOllamaClient_Version(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/version", r.URL.Path)
		_, _ = w.Write([]byte(`{"version":"0.5.7"}`))
	}))
	defer srv.Close()

	v, err := NewOllamaClient(srv.URL, time.Second, 0, zaptest.NewLogger(t)).Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.5.7", v)
}

func TestDecodeArguments(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{"object", `{"path":"a.txt","limit":3}`, map[string]any{"path": "a.txt", "limit": float64(3)}, false},
		{"string encoded object", `"{\"path\":\"a.txt\"}"`, map[string]any{"path": "a.txt"}, false},
		{"empty", ``, map[string]any{}, false},
		{"null", `null`, map[string]any{}, false},
		{"empty string", `""`, map[string]any{}, false},
		{"array", `[1,2]`, nil, true},
		{"number", `42`, nil, true},
		{"truncated object", `{"path":`, nil, true},
		{"string with garbage", `"not json"`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FunctionCall{Name: "x", Arguments: json.RawMessage(tt.raw)}.DecodeArguments()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
