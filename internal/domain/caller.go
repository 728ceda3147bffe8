package domain

import "context"

// Caller identifies who a turn is executed for.
type Caller struct {
	UserID  string `json:"user_id"`
	Channel string `json:"channel"`
	TraceID string `json:"trace_id"`
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored in ctx, or an anonymous one.
func CallerFromContext(ctx context.Context) Caller {
	if c, ok := ctx.Value(callerKey{}).(Caller); ok {
		return c
	}
	return Caller{UserID: "anonymous"}
}
