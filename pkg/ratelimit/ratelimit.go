// Package ratelimit applies a token bucket per client address.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/inngest/mcpedge/pkg/rpcerr"
	"github.com/karlseguin/ccache/v3"
	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL = 10 * time.Minute
	maxKeys        = 100_000
)

// Limiter holds one token bucket per key. Buckets idle for longer than the
// idle TTL are forgotten. A nil *Limiter allows everything.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	buckets *ccache.Cache[*rate.Limiter]
}

// New returns a limiter, or nil when rps or burst disable limiting.
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultIdleTTL,
		buckets: ccache.New(ccache.Configure[*rate.Limiter]().
			MaxSize(maxKeys).
			ItemsToPrune(1_000)),
	}
}

// Allow reports whether one token can be taken for key at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return true
	}
	item, err := l.buckets.Fetch(key, l.idleTTL, func() (*rate.Limiter, error) {
		return rate.NewLimiter(l.limit, l.burst), nil
	})
	if err != nil {
		return true
	}
	item.Extend(l.idleTTL)
	return item.Value().AllowN(now, 1)
}

// Stop releases the limiter's background worker.
func (l *Limiter) Stop() {
	if l != nil {
		l.buckets.Stop()
	}
}

// Key returns the bucket key for r. Session ids are chosen by the client
// and unchecked at this point, so they don't select the bucket.
func Key(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Middleware rejects requests over the limit with a JSON-RPC error and a 429.
// onLimited, if set, is called for each rejected request.
func (l *Limiter) Middleware(onLimited func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(Key(r), time.Now()) {
				if onLimited != nil {
					onLimited(r)
				}
				w.Header().Set("Retry-After", "1")
				_ = rpcerr.WriteHTTP(w, nil, rpcerr.Errorf(http.StatusTooManyRequests, rpcerr.CodeServerError, "Rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
