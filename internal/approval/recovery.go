package approval

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"go.uber.org/zap"
)

// Recover is called once at startup. Requests whose deadline passed while the
// process was down become timeout; the rest are announced again so the human
// channel can re-render them. Returns the requests still pending.
func (g *Gate) Recover(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	expired, err := g.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := g.GetPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, req := range pending {
		g.notify(ctx, req)
	}

	g.logger.Info("approval state recovered",
		zap.Int("expired", expired),
		zap.Int("pending", len(pending)))
	return pending, nil
}

// RunSweeper expires overdue requests every interval until ctx ends. It covers
// requests whose waiter went away (client disconnect, crash).
func (g *Gate) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := g.Sweep(ctx)
			if err != nil {
				g.logger.Warn("approval sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				g.logger.Info("expired overdue approvals", zap.Int("count", n))
			}
		}
	}
}

// Subscribe feeds every newly announced request to fn until ctx ends. On each
// (re)connect the current pending list is replayed so nothing is missed.
func (g *Gate) Subscribe(ctx context.Context, fn func(*domain.ApprovalRequest)) {
	infra.ListenStateResilient(ctx, g.rdb, g.logger, infra.RedisChanApprovalsPending,
		func() error {
			pending, err := g.GetPending(ctx)
			if err != nil {
				return err
			}
			for _, req := range pending {
				fn(req)
			}
			return nil
		},
		func(payload string) {
			var req domain.ApprovalRequest
			if err := json.Unmarshal([]byte(payload), &req); err != nil {
				g.logger.Error("invalid approval notification", zap.Error(err))
				return
			}
			fn(&req)
		},
	)
}
