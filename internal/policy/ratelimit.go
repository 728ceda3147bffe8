package policy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

// Counter is a shared fixed-window counter. Incr must be atomic across
// goroutines and processes: the increment and the expiry are one operation.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// incrWithExpiry increments and, on the first hit of a window (or if the key
// somehow lost its TTL), arms the expiry in the same script execution.
var incrWithExpiry = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

type RedisCounter struct {
	rdb redis.Scripter
}

func NewRedisCounter(rdb redis.Scripter) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	return incrWithExpiry.Run(ctx, c.rdb, []string{infra.RateLimitKey(key)}, window.Milliseconds()).Int64()
}
