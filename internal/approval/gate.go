package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/spaceai-agentcore/internal/domain"
	"github.com/xela07ax/spaceai-agentcore/internal/infra"
	"go.uber.org/zap"
)

const (
	DefaultTimeout      = 300 * time.Second
	DefaultPollInterval = 2 * time.Second
	// records outlive their deadline so operators can still inspect them
	retentionFactor = 2
)

// NewRequest describes an action waiting for sign-off.
type NewRequest struct {
	Action          string
	Zone            domain.Zone
	RiskLevel       domain.RiskLevel
	Description     string
	Target          string
	ProposedContent string
	// Timeout overrides the gate default when positive.
	Timeout time.Duration
}

// Gate is the durable approval state machine. Records live in Redis, so a
// restarted process finds every pending request again (see Recover).
type Gate struct {
	rdb     redis.UniversalClient
	logger  *zap.Logger
	timeout time.Duration
	poll    time.Duration
	now     func() time.Time
}

type Option func(*Gate)

// WithPollInterval sets how often a waiter re-reads the durable record in case
// a resolution message was lost.
func WithPollInterval(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.poll = d
		}
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func NewGate(rdb redis.UniversalClient, logger *zap.Logger, opts ...Option) *Gate {
	g := &Gate{
		rdb:     rdb,
		logger:  logger.Named("approval-gate"),
		timeout: DefaultTimeout,
		poll:    DefaultPollInterval,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create persists a pending request and notifies the human approval channel.
// A failed notification is logged but not fatal: the request is already durable
// and visible through GetPending.
func (g *Gate) Create(ctx context.Context, nr NewRequest) (*domain.ApprovalRequest, error) {
	timeout := nr.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	now := g.now().UTC()

	req := &domain.ApprovalRequest{
		ID:              uuid.New().String(),
		Action:          nr.Action,
		Zone:            nr.Zone,
		RiskLevel:       nr.RiskLevel,
		Description:     nr.Description,
		Target:          nr.Target,
		ProposedContent: nr.ProposedContent,
		Status:          domain.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(timeout),
	}

	key := infra.ApprovalKey(req.ID)
	_, err := g.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, toHash(req))
		pipe.Expire(ctx, key, retentionFactor*timeout)
		pipe.SAdd(ctx, infra.RedisKeyApprovalsPending, req.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("persist approval request: %w", err)
	}

	g.notify(ctx, req)

	g.logger.Info("approval requested",
		zap.String("approval_id", req.ID),
		zap.String("action", req.Action),
		zap.String("zone", string(req.Zone)),
		zap.String("risk", string(req.RiskLevel)),
		zap.Duration("timeout", timeout))

	return req, nil
}

func (g *Gate) notify(ctx context.Context, req *domain.ApprovalRequest) {
	payload, err := json.Marshal(req)
	if err != nil {
		g.logger.Error("encode approval notification", zap.Error(err))
		return
	}
	if err := g.rdb.Publish(ctx, infra.RedisChanApprovalsPending, payload).Err(); err != nil {
		g.logger.Warn("approval notification not delivered",
			zap.String("approval_id", req.ID), zap.Error(err))
	}
}

// Get returns the current durable record.
func (g *Gate) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	h, err := g.rdb.HGetAll(ctx, infra.ApprovalKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load approval %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, domain.ErrApprovalNotFound
	}
	return fromHash(h), nil
}

// Resolve moves a pending request to a terminal status. It fails with
// ErrApprovalNotFound for an unknown id and ErrAlreadyProcessed if another
// resolution (or the timeout) got there first.
func (g *Gate) Resolve(ctx context.Context, id string, status domain.ApprovalStatus, resolvedBy string) error {
	pending := domain.ApprovalRequest{Status: domain.StatusPending}
	if err := pending.CanTransitionTo(status); err != nil {
		return err
	}

	res, err := resolveScript.Run(ctx, g.rdb,
		[]string{infra.ApprovalKey(id), infra.RedisKeyApprovalsPending},
		string(status), g.now().UTC().Format(time.RFC3339Nano), resolvedBy, id,
	).Int()
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", id, err)
	}
	switch res {
	case -1:
		return domain.ErrApprovalNotFound
	case 0:
		return domain.ErrAlreadyProcessed
	}

	// wake up the waiter, if any is still around
	if err := g.rdb.Publish(ctx, infra.ApprovalResolvedChannel(id), string(status)).Err(); err != nil {
		g.logger.Warn("resolution saved but wake-up not delivered, waiter will poll",
			zap.String("approval_id", id), zap.Error(err))
	}

	g.logger.Info("approval resolved",
		zap.String("approval_id", id),
		zap.String("status", string(status)),
		zap.String("resolved_by", resolvedBy))
	return nil
}

// WaitForResolution blocks until the request leaves pending or timeout elapses,
// whichever is first, and returns the terminal status. At the deadline the gate
// itself tries to move the request to timeout; if a human won that race their
// decision is returned instead. A missing record counts as timeout.
func (g *Gate) WaitForResolution(ctx context.Context, id string, timeout time.Duration) (domain.ApprovalStatus, error) {
	if timeout <= 0 {
		timeout = g.timeout
	}

	// Subscribe before the first read, otherwise a resolution landing between
	// the read and the subscribe would only be seen by the poller.
	sub := g.rdb.Subscribe(ctx, infra.ApprovalResolvedChannel(id))
	defer sub.Close()

	var wake <-chan *redis.Message
	if _, err := sub.Receive(ctx); err != nil {
		g.logger.Warn("resolution subscribe failed, falling back to polling",
			zap.String("approval_id", id), zap.Error(err))
	} else {
		wake = sub.Channel()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	for {
		req, err := g.Get(ctx, id)
		switch {
		case errors.Is(err, domain.ErrApprovalNotFound):
			return domain.StatusTimeout, nil
		case err != nil:
			g.logger.Warn("approval status read failed", zap.String("approval_id", id), zap.Error(err))
		case req.Status.Terminal():
			return req.Status, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		case <-ticker.C:
		case <-deadline.C:
			return g.expire(ctx, id), nil
		}
	}
}

// expire runs the pending -> timeout transition and reports whichever status won.
func (g *Gate) expire(ctx context.Context, id string) domain.ApprovalStatus {
	err := g.Resolve(ctx, id, domain.StatusTimeout, domain.ResolvedByTimeout)
	switch {
	case err == nil, errors.Is(err, domain.ErrApprovalNotFound):
		return domain.StatusTimeout
	case errors.Is(err, domain.ErrAlreadyProcessed):
		if req, gerr := g.Get(ctx, id); gerr == nil {
			return req.Status
		}
	default:
		g.logger.Error("approval expiry failed", zap.String("approval_id", id), zap.Error(err))
	}
	return domain.StatusTimeout
}

// GetPending lists requests still waiting for a decision, oldest first. Index
// entries whose record expired or already resolved are dropped on the way.
func (g *Gate) GetPending(ctx context.Context) ([]*domain.ApprovalRequest, error) {
	ids, err := g.rdb.SMembers(ctx, infra.RedisKeyApprovalsPending).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = g.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, infra.ApprovalKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load pending approvals: %w", err)
	}

	var (
		out   []*domain.ApprovalRequest
		stale []any
	)
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 || h[fStatus] != string(domain.StatusPending) {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, fromHash(h))
	}
	if len(stale) > 0 {
		if err := g.rdb.SRem(ctx, infra.RedisKeyApprovalsPending, stale...).Err(); err != nil {
			g.logger.Warn("pending index cleanup failed", zap.Error(err))
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Sweep expires every pending request whose deadline has passed and returns
// how many it moved to timeout.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	pending, err := g.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	now := g.now()
	n := 0
	for _, req := range pending {
		if !req.Expired(now) {
			continue
		}
		if err := g.Resolve(ctx, req.ID, domain.StatusTimeout, domain.ResolvedByTimeout); err == nil {
			n++
		}
	}
	return n, nil
}
