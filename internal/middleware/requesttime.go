package middleware

import (
	"context"
	"net/http"
	"time"
)

type contextKey string

const requestTimeKey contextKey = "request_time"

// RequestTime annotates the request context with the time the request
// entered the pipeline.
func RequestTime() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), requestTimeKey, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestTimeFrom returns the pipeline entry time, or the zero time when
// the middleware did not run.
func RequestTimeFrom(ctx context.Context) time.Time {
	if value, ok := ctx.Value(requestTimeKey).(time.Time); ok {
		return value
	}
	return time.Time{}
}
