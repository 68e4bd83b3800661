package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Default cleanup intervals.
const (
	cleanupInterval = 1 * time.Minute
	idleTimeout     = 3 * time.Minute
)

// bucket is the token state of one key (client address or upstream host).
type bucket struct {
	// mu protects the individual bucket's state (tokens, lastRefill).
	// This allows concurrent updates to different keys without contention.
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
}

// RateLimiter manages per-key token buckets.
type RateLimiter struct {
	// buckets maps keys to their token state.
	// mu protects the map itself (adding/removing keys).
	buckets map[string]*bucket
	mu      sync.RWMutex

	// rate is the number of tokens added per second.
	rate float64
	// capacity is the max burst size.
	capacity float64

	now func() time.Time
}

// NewRateLimiter creates a RateLimiter. Call Run to evict idle keys.
func NewRateLimiter(rate, capacity float64) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
	}
}

// getBucket retrieves or creates the bucket for key.
func (rl *RateLimiter) getBucket(key string) *bucket {
	// 1. Fast Path: Read Lock
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()

	if exists {
		return b
	}

	// 2. Slow Path: Write Lock
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if b, exists = rl.buckets[key]; !exists {
		b = &bucket{
			tokens:     rl.capacity, // Start full
			lastRefill: rl.now(),
		}
		rl.buckets[key] = b
	}
	return b
}

// reserve refills lazily and takes a token if one is available. Otherwise it
// reports how long until the next token.
func (rl *RateLimiter) reserve(key string) (bool, time.Duration) {
	b := rl.getBucket(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := rl.now()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens += elapsed * rl.rate
		if b.tokens > rl.capacity {
			b.tokens = rl.capacity
		}
		b.lastRefill = now
	}

	if b.tokens >= 1.0 {
		b.tokens--
		return true, 0
	}
	if rl.rate <= 0 {
		return false, time.Hour
	}
	return false, time.Duration((1.0 - b.tokens) / rl.rate * float64(time.Second))
}

// Allow takes a token for key without blocking.
func (rl *RateLimiter) Allow(key string) bool {
	ok, _ := rl.reserve(key)
	return ok
}

// Wait blocks until a token for key is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, delay := rl.reserve(key)
		if ok {
			return nil
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Run evicts idle buckets until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > idleTimeout {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Middleware rejects requests over the limit with 429.
func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "Too Many Requests"})
			return
		}
		next(w, r)
	}
}

// ClientIP extracts the caller address, preferring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
