package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/spaceai-agentcore/internal/llm"
)

// ReliabilityConfig tunes the LLM wrapper. Zero values fall back to defaults.
type ReliabilityConfig struct {
	RatePerSecond float64
	Burst         int
	CBMaxRequests uint32
	CBInterval    time.Duration
	CBTimeout     time.Duration
	Attempts      uint
	// CallTimeout bounds one attempt; the caller's ctx bounds all of them.
	CallTimeout time.Duration
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.CBMaxRequests == 0 {
		c.CBMaxRequests = 3
	}
	if c.CBInterval <= 0 {
		c.CBInterval = 5 * time.Second
	}
	if c.CBTimeout <= 0 {
		c.CBTimeout = 30 * time.Second
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
	return c
}

// ReliabilityWrapper puts a rate limiter, a circuit breaker and retries in
// front of an llm.Client.
type ReliabilityWrapper struct {
	next    llm.Client
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cfg     ReliabilityConfig
	metrics *Metrics
}

var _ llm.Client = (*ReliabilityWrapper)(nil)

func NewReliabilityWrapper(next llm.Client, cfg ReliabilityConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	logger = logger.With(zap.String("mod", "llm-reliability"))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // через сколько CB попробует half-open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.CircuitBreakerState.WithLabelValues("llm").Set(float64(gobreaker.StateClosed))

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:     cfg,
		metrics: metrics,
	}
}

func (w *ReliabilityWrapper) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := w.chat(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	w.metrics.LLMDuration.WithLabelValues(req.Model, status).Observe(time.Since(start).Seconds())
	return resp, err
}

func (w *ReliabilityWrapper) chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llm rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	res, err := w.cb.Execute(func() (interface{}, error) {
		var out *llm.ChatResponse
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.cfg.Attempts),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// backend told us how long to wait
				var tErr *llm.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
			defer cancel()

			var callErr error
			out, callErr = w.next.Chat(tCtx, req)
			if callErr != nil && !retryable(callErr) {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})
		return out, retryErr
	})
	if err != nil {
		return nil, err
	}
	return res.(*llm.ChatResponse), nil
}

// retryable: throttling, 5xx and transport errors are worth another attempt;
// a 4xx means the request itself is wrong.
func retryable(err error) bool {
	var sErr *llm.StatusError
	if errors.As(err, &sErr) {
		return sErr.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
