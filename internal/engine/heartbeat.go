package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

// VersionSource reports the LLM backend version (llm.OllamaClient).
type VersionSource interface {
	Version(ctx context.Context) (string, error)
}

// Notification is published on infra.RedisChanNotifications.
type Notification struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Heartbeat periodically polls the LLM backend and announces version changes.
type Heartbeat struct {
	rdb      redis.UniversalClient
	source   VersionSource
	interval time.Duration
	logger   *zap.Logger
}

func NewHeartbeat(rdb redis.UniversalClient, source VersionSource, interval time.Duration, logger *zap.Logger) *Heartbeat {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Heartbeat{rdb: rdb, source: source, interval: interval, logger: logger.Named("heartbeat")}
}

func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Tick(ctx); err != nil {
				h.logger.Warn("heartbeat tick failed", zap.Error(err))
			}
		}
	}
}

// Tick stores the current backend version. The first observation is recorded
// silently; a change afterwards is published as a notification.
func (h *Heartbeat) Tick(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	current, err := h.source.Version(pctx)
	cancel()
	if err != nil {
		// backend down: nothing to compare
		h.logger.Debug("llm backend unreachable", zap.Error(err))
		return nil
	}

	last, err := h.rdb.Get(ctx, infra.RedisKeyHeartbeat).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return h.rdb.Set(ctx, infra.RedisKeyHeartbeat, current, 0).Err()
	case err != nil:
		return err
	case last == current:
		return nil
	}

	if err := h.rdb.Set(ctx, infra.RedisKeyHeartbeat, current, 0).Err(); err != nil {
		return err
	}
	payload, _ := json.Marshal(Notification{
		Kind: "llm_updated",
		Text: fmt.Sprintf("LLM backend updated: %s -> %s", last, current),
	})
	h.logger.Info("llm backend updated", zap.String("from", last), zap.String("to", current))
	return h.rdb.Publish(ctx, infra.RedisChanNotifications, payload).Err()
}
