package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-remote-IP token bucket for inbound HTTP requests.
type Limiter struct {
	mu      sync.Mutex
	perMin  int
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// idleTTL bounds how long an unused bucket is kept.
const idleTTL = 10 * time.Minute

func New(perMin, burst int) *Limiter {
	if perMin <= 0 {
		perMin = 60
	}
	if burst <= 0 {
		burst = 120
	}
	return &Limiter{perMin: perMin, burst: burst, buckets: make(map[string]*bucket), now: time.Now}
}

func (l *Limiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b := l.buckets[ip]
	if b == nil {
		if len(l.buckets) > 4096 {
			l.evictLocked(now)
		}
		b = &bucket{lim: rate.NewLimiter(rate.Limit(float64(l.perMin)/60), l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim
}

func (l *Limiter) evictLocked(now time.Time) {
	for ip, b := range l.buckets {
		if now.Sub(b.seen) > idleTTL {
			delete(l.buckets, ip)
		}
	}
}

func (l *Limiter) Allow(r *http.Request) bool {
	return l.get(clientIP(r)).AllowN(l.now(), 1)
}

func clientIP(r *http.Request) string {
	// best effort: X-Forwarded-For first IP, else RemoteAddr host
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		first, _, _ := strings.Cut(xf, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Outbound paces calls to an upstream service, e.g. a rate-limited RPC endpoint.
// A nil *Outbound never waits.
type Outbound struct {
	lim *rate.Limiter
}

// NewOutbound allows rps calls per second with the given burst. rps <= 0 disables pacing.
func NewOutbound(rps float64, burst int) *Outbound {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Outbound{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a call may proceed or ctx is done.
func (o *Outbound) Wait(ctx context.Context) error {
	if o == nil {
		return ctx.Err()
	}
	return o.lim.Wait(ctx)
}
