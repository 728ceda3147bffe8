package skills

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

const (
	maxMemoryChars   = 1_000
	maxMemoryEntries = 500
	recallScan       = 200
)

// MemoryEntry is one remembered item.
type MemoryEntry struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryStore persists memories per user, newest first.
type MemoryStore interface {
	Add(ctx context.Context, userID string, e MemoryEntry) error
	Recent(ctx context.Context, userID string, limit int) ([]MemoryEntry, error)
}

// RedisMemoryStore keeps a capped list per user.
type RedisMemoryStore struct {
	rdb redis.UniversalClient
}

func NewRedisMemoryStore(rdb redis.UniversalClient) *RedisMemoryStore {
	return &RedisMemoryStore{rdb: rdb}
}

func (m *RedisMemoryStore) Add(ctx context.Context, userID string, e MemoryEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := infra.MemoryKey(userID)
	_, err = m.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, data)
		p.LTrim(ctx, key, 0, maxMemoryEntries-1)
		return nil
	})
	return err
}

func (m *RedisMemoryStore) Recent(ctx context.Context, userID string, limit int) ([]MemoryEntry, error) {
	raw, err := m.rdb.LRange(ctx, infra.MemoryKey(userID), 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]MemoryEntry, 0, len(raw))
	for _, r := range raw {
		var e MemoryEntry
		if json.Unmarshal([]byte(r), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

var memoryTypes = []string{"fact", "observation", "preference"}

// Remember stores a fact about the current caller.
type Remember struct {
	store MemoryStore
}

func NewRemember(store MemoryStore) *Remember { return &Remember{store: store} }

func (s *Remember) Metadata() Metadata {
	return Metadata{
		Name:            "remember",
		Description:     "Save a short fact, observation or preference about the user for later conversations.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 5,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string", "description": "What to remember, one sentence."},
				"type":    map[string]any{"type": "string", "enum": memoryTypes, "description": "Kind of memory, 'fact' by default."},
			},
			"required": []string{"content"},
		},
	}
}

func (s *Remember) Validate(params map[string]any) error {
	content, err := stringParam(params, "content", true)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(content) > maxMemoryChars {
		return invalid("parameter 'content' must be under %d characters", maxMemoryChars)
	}
	if _, err := SanitizeMemory(content); err != nil {
		return invalid("%v", err)
	}
	_, err = enumParam(params, "type", "fact", memoryTypes...)
	return err
}

func (s *Remember) Execute(ctx context.Context, params map[string]any) (any, error) {
	content, _ := stringParam(params, "content", true)
	kind, _ := enumParam(params, "type", "fact", memoryTypes...)
	cleaned, err := SanitizeMemory(content)
	if err != nil {
		return nil, err
	}
	e := MemoryEntry{Type: kind, Content: cleaned, CreatedAt: time.Now().UTC()}
	if err := s.store.Add(ctx, domain.CallerFromContext(ctx).UserID, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Remember) SanitizeOutput(result any) string {
	e, ok := result.(MemoryEntry)
	if !ok {
		return fmt.Sprintf("[remember] unexpected result %T", result)
	}
	return fmt.Sprintf("Remembered (%s): %s", e.Type, e.Content)
}

// Recall searches the caller's memories.
type Recall struct {
	store MemoryStore
}

func NewRecall(store MemoryStore) *Recall { return &Recall{store: store} }

func (s *Recall) Metadata() Metadata {
	return Metadata{
		Name:            "recall",
		Description:     "Look up things previously remembered about the user. Without a query returns the latest memories.",
		RiskLevel:       domain.RiskLow,
		MaxCallsPerTurn: 5,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Words to search for."},
				"limit": map[string]any{"type": "integer", "description": "Maximum results, 10 by default."},
			},
		},
	}
}

func (s *Recall) Validate(params map[string]any) error {
	if _, err := stringParam(params, "query", false); err != nil {
		return err
	}
	limit, err := intParam(params, "limit", 10)
	if err != nil {
		return err
	}
	if limit < 1 || limit > 50 {
		return invalid("parameter 'limit' must be between 1 and 50")
	}
	return nil
}

func (s *Recall) Execute(ctx context.Context, params map[string]any) (any, error) {
	query, _ := stringParam(params, "query", false)
	limit, _ := intParam(params, "limit", 10)

	all, err := s.store.Recent(ctx, domain.CallerFromContext(ctx).UserID, recallScan)
	if err != nil {
		return nil, err
	}
	words := strings.Fields(strings.ToLower(query))
	out := make([]MemoryEntry, 0, limit)
	for _, e := range all {
		if len(out) == limit {
			break
		}
		if matchesAny(strings.ToLower(e.Content), words) {
			out = append(out, e)
		}
	}
	return out, nil
}

func matchesAny(text string, words []string) bool {
	if len(words) == 0 {
		return true
	}
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func (s *Recall) SanitizeOutput(result any) string {
	entries, ok := result.([]MemoryEntry)
	if !ok {
		return fmt.Sprintf("[recall] unexpected result %T", result)
	}
	if len(entries) == 0 {
		return "No memories found."
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "- [%s] %s (%s)\n", e.Type, StripControl(e.Content), e.CreatedAt.Format("2006-01-02"))
	}
	return strings.TrimRight(b.String(), "\n")
}
