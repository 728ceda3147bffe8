package engine

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/xela07ax/spaceai-agentcore/internal/domain"
)

const TraceHeader = "X-Trace-ID"

// TracingMiddleware assigns a trace id to every request (taken from the
// X-Trace-ID header when present) and stores it on the request's Caller.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		caller := domain.CallerFromContext(r.Context())
		caller.TraceID = traceID
		ctx := domain.WithCaller(r.Context(), caller)

		// клиент тоже должен знать ID своего запроса
		w.Header().Set(TraceHeader, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
