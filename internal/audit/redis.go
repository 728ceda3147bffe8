package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

const (
	AllLogLimit   = 1000
	SkillLogLimit = 500
)

// RedisStorage keeps capped lists of recent events (all and per skill) and a
// hash of counters keyed "<skill>:<outcome>".
type RedisStorage struct {
	rdb redis.UniversalClient
}

func NewRedisStorage(rdb redis.UniversalClient) *RedisStorage {
	return &RedisStorage{rdb: rdb}
}

func (s *RedisStorage) WriteBatch(ctx context.Context, events []SkillCallEvent) error {
	if len(events) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	touched := make(map[string]bool)
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.LPush(ctx, infra.RedisKeyAuditAll, data)
		pipe.LPush(ctx, infra.AuditSkillKey(e.Skill), data)
		pipe.HIncrBy(ctx, infra.RedisKeyAuditStats, e.Skill+":"+e.Outcome, 1)
		touched[e.Skill] = true
	}
	pipe.LTrim(ctx, infra.RedisKeyAuditAll, 0, AllLogLimit-1)
	for skill := range touched {
		pipe.LTrim(ctx, infra.AuditSkillKey(skill), 0, SkillLogLimit-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Recent returns the newest events, for one skill or for all when skill is empty.
func (s *RedisStorage) Recent(ctx context.Context, skill string, limit int) ([]SkillCallEvent, error) {
	key := infra.RedisKeyAuditAll
	if skill != "" {
		key = infra.AuditSkillKey(skill)
	}
	raw, err := s.rdb.LRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]SkillCallEvent, 0, len(raw))
	for _, r := range raw {
		var e SkillCallEvent
		if json.Unmarshal([]byte(r), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// SkillStats is the per-skill outcome breakdown.
type SkillStats map[string]map[string]int64

func (s *RedisStorage) Stats(ctx context.Context) (SkillStats, error) {
	raw, err := s.rdb.HGetAll(ctx, infra.RedisKeyAuditStats).Result()
	if err != nil {
		return nil, err
	}
	out := make(SkillStats)
	for field, v := range raw {
		skill, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if out[skill] == nil {
			out[skill] = make(map[string]int64)
		}
		out[skill][outcome] = n
	}
	return out, nil
}
