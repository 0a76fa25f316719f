package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/trailhead-tours/apiserver/config"
)

const defaultMessage = "Too many requests from this IP, please try again in an hour"

// Limiter is an injectable per-client-IP request limiter with a
// configurable window and threshold. It is owned by the request pipeline
// rather than living as ambient package state.
type Limiter struct {
	limit   int
	window  time.Duration
	message string
}

// New constructs a Limiter from config, applying defaults for zero
// values.
func New(cfg config.RateLimitConfig) *Limiter {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 100
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{limit: limit, window: window, message: defaultMessage}
}

// Middleware returns the pipeline middleware enforcing the limit per
// source IP.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return httprate.Limit(
		l.limit,
		l.window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status":  "fail",
				"message": l.message,
			})
		}),
	)
}
