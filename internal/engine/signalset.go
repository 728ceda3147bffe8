package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

const seedLockTTL = 30 * time.Second

// SignalSet is an operator-controlled set of ids mirrored in three places:
// a local map for the hot path (L1), a Redis set shared by all instances (L2),
// and a pub/sub channel carrying "id:on" / "id:off" changes.
type SignalSet struct {
	name    string
	rdb     redis.UniversalClient
	logger  *zap.Logger
	setKey  string
	lockKey string
	channel string

	mu      sync.RWMutex
	members map[string]struct{}
}

func NewSignalSet(rdb redis.UniversalClient, logger *zap.Logger, name, setKey, lockKey, channel string) *SignalSet {
	return &SignalSet{
		name:    name,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", name)),
		setKey:  setKey,
		lockKey: lockKey,
		channel: channel,
		members: make(map[string]struct{}),
	}
}

// NewKillSwitch holds disabled skill names.
func NewKillSwitch(rdb redis.UniversalClient, logger *zap.Logger) *SignalSet {
	return NewSignalSet(rdb, logger, "kill-switch",
		infra.RedisKeyDisabledSkills, infra.RedisKeyLockDisabledSkills, infra.RedisChanKillSwitch)
}

// NewQuarantine holds caller ids whose every action needs approval.
func NewQuarantine(rdb redis.UniversalClient, logger *zap.Logger) *SignalSet {
	return NewSignalSet(rdb, logger, "quarantine",
		infra.RedisKeyQuarantineCallers, infra.RedisKeyLockQuarantine, infra.RedisChanQuarantine)
}

// Init seeds Redis from configuration (once per cluster) and loads the shared
// state into L1.
func (s *SignalSet) Init(ctx context.Context, seed []string) error {
	if err := s.seed(ctx, seed); err != nil {
		return fmt.Errorf("%s warm-up: %w", s.name, err)
	}
	return s.sync(ctx)
}

// seed writes ids into an empty shared set. The SetNX lock picks one instance
// per cluster; the others only read.
func (s *SignalSet) seed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	won, err := s.rdb.SetNX(ctx, s.lockKey, "seeding", seedLockTTL).Result()
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	n, err := s.rdb.SCard(ctx, s.setKey).Result()
	if err != nil {
		s.logger.Warn("shared set size unknown, seeding anyway", zap.String("key", s.setKey), zap.Error(err))
	} else if n > 0 {
		return nil
	}

	s.logger.Info("seeding shared set from config", zap.String("key", s.setKey), zap.Strings("ids", ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	return s.rdb.SAdd(ctx, s.setKey, members...).Err()
}

// sync replaces L1 with the Redis set.
func (s *SignalSet) sync(ctx context.Context) error {
	ids, err := s.rdb.SMembers(ctx, s.setKey).Result()
	if err != nil {
		return err
	}
	fresh := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fresh[id] = struct{}{}
	}
	s.mu.Lock()
	s.members = fresh
	s.mu.Unlock()
	return nil
}

// Contains is the hot-path check: no I/O.
func (s *SignalSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *SignalSet) Members() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Set turns id on or off cluster-wide.
func (s *SignalSet) Set(ctx context.Context, id string, on bool) error {
	state := "off"
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if on {
			state = "on"
			p.SAdd(ctx, s.setKey, id)
		} else {
			p.SRem(ctx, s.setKey, id)
		}
		p.Publish(ctx, s.channel, id+":"+state)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s set %s: %w", s.name, id, err)
	}
	s.apply(id, on)
	s.logger.Info("state changed", zap.String("id", id), zap.Bool("on", on))
	return nil
}

func (s *SignalSet) apply(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.members[id] = struct{}{}
	} else {
		delete(s.members, id)
	}
}

// StartListener follows the channel until ctx ends, resyncing from Redis after
// every reconnect.
func (s *SignalSet) StartListener(ctx context.Context) {
	infra.ListenStateResilient(ctx, s.rdb, s.logger, s.channel,
		func() error { return s.sync(ctx) },
		func(payload string) {
			id, on, ok := infra.ParseToggleSignal(payload)
			if !ok {
				s.logger.Warn("malformed signal", zap.String("payload", payload))
				return
			}
			s.apply(id, on)
		},
	)
}
