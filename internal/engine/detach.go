package engine

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"
)

// Detach runs fn in its own goroutine. A panic is logged with its stack and
// swallowed so background work never takes the process down. The returned
// channel closes when fn returns.
func Detach(ctx context.Context, logger *zap.Logger, name string, fn func(ctx context.Context)) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked",
					zap.String("task", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		fn(ctx)
	}()
	return done
}
