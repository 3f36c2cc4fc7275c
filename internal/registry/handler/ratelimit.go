package handler

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per client IP and evicts buckets
// that have been idle longer than ttl.
type limiterPool struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	ttl   time.Duration

	entries map[string]*poolEntry
}

type poolEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps, burst int, ttl time.Duration) *limiterPool {
	p := &limiterPool{
		rps:     rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*poolEntry),
	}
	go p.evictLoop()
	return p
}

func (p *limiterPool) allow(ip string) bool {
	p.mu.Lock()
	e, ok := p.entries[ip]
	if !ok {
		e = &poolEntry{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.entries[ip] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()

	return e.limiter.Allow()
}

func (p *limiterPool) evictLoop() {
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-p.ttl)
		p.mu.Lock()
		for ip, e := range p.entries {
			if e.lastSeen.Before(cutoff) {
				delete(p.entries, ip)
			}
		}
		p.mu.Unlock()
	}
}

// RateLimiter enforces per-IP token-bucket rate limiting: rps steady-state
// requests per second with the given burst.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	pool := newLimiterPool(rps, burst, 10*time.Minute)

	return func(c *gin.Context) {
		if !pool.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
				Detail:    "rate limit exceeded",
				ErrorCode: "rate_limited",
				RequestID: c.GetString(requestIDKey),
			})
			return
		}
		c.Next()
	}
}
