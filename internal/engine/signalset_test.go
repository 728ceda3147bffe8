package engine

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xela07ax/spaceai-agentcore/internal/infra"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSignalSetInitSeedsOnce(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	first := NewKillSwitch(rdb, zaptest.NewLogger(t))
	require.NoError(t, first.Init(ctx, []string{"shell_exec", "http_request"}))
	assert.True(t, first.Contains("shell_exec"))
	assert.Equal(t, []string{"http_request", "shell_exec"}, first.Members())

	members, err := mr.Members(infra.RedisKeyDisabledSkills)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"shell_exec", "http_request"}, members)

	// an operator re-enabled http_request; a restart must not undo that
	require.NoError(t, first.Set(ctx, "http_request", false))
	mr.Del(infra.RedisKeyLockDisabledSkills)

	second := NewKillSwitch(rdb, zaptest.NewLogger(t))
	require.NoError(t, second.Init(ctx, []string{"shell_exec", "http_request"}))
	assert.Equal(t, []string{"shell_exec"}, second.Members())
}

func TestSignalSetPropagatesAcrossInstances(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	local := NewQuarantine(rdb, zaptest.NewLogger(t))
	remote := NewQuarantine(rdb, zaptest.NewLogger(t))
	require.NoError(t, local.Init(ctx, nil))
	require.NoError(t, remote.Init(ctx, nil))

	done := Detach(ctx, zaptest.NewLogger(t), "quarantine-listener", remote.StartListener)

	require.NoError(t, local.Set(ctx, "mallory", true))
	assert.True(t, local.Contains("mallory"))
	assert.Eventually(t, func() bool { return remote.Contains("mallory") }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, local.Set(ctx, "mallory", false))
	assert.Eventually(t, func() bool { return !remote.Contains("mallory") }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestSignalSetSetFailsWithoutRedis(t *testing.T) {
	mr, rdb := newRedis(t)
	s := NewKillSwitch(rdb, zaptest.NewLogger(t))
	mr.Close()

	err := s.Set(context.Background(), "shell_exec", true)
	assert.Error(t, err)
	assert.False(t, s.Contains("shell_exec"))
}
