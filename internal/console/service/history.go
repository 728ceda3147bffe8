package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

// MaxHistoryMessages caps the stored conversation per user.
const MaxHistoryMessages = 200

// HistoryStore keeps the user/assistant turns of a conversation. Tool turns are
// not stored.
type HistoryStore interface {
	Load(ctx context.Context, userID string) ([]llm.Message, error)
	Append(ctx context.Context, userID string, msgs ...llm.Message) error
	Clear(ctx context.Context, userID string) error
}

type RedisHistory struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisHistory(rdb redis.UniversalClient, ttl time.Duration) *RedisHistory {
	return &RedisHistory{rdb: rdb, ttl: ttl}
}

func (h *RedisHistory) Load(ctx context.Context, userID string) ([]llm.Message, error) {
	raw, err := h.rdb.LRange(ctx, infra.ChatHistoryKey(userID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]llm.Message, 0, len(raw))
	for _, r := range raw {
		var m llm.Message
		if json.Unmarshal([]byte(r), &m) == nil {
			out = append(out, m)
		}
	}
	return out, nil
}

func (h *RedisHistory) Append(ctx context.Context, userID string, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, data)
	}
	key := infra.ChatHistoryKey(userID)
	_, err := h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, vals...)
		p.LTrim(ctx, key, -MaxHistoryMessages, -1)
		if h.ttl > 0 {
			p.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	return err
}

func (h *RedisHistory) Clear(ctx context.Context, userID string) error {
	return h.rdb.Del(ctx, infra.ChatHistoryKey(userID)).Err()
}
