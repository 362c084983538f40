package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xiaofeng19920506/microservice/internal/errors"
	"github.com/xiaofeng19920506/microservice/internal/middleware"
)

// Config holds rate limiter configuration.
type Config struct {
	Window time.Duration // fixed window length
	Max    int           // max requests per window per client
}

const shardCount = 16

type shard struct {
	mu    sync.Mutex
	items map[string]*window
}

type window struct {
	start time.Time
	count int
}

// FixedWindow implements a fixed-window request counter keyed by client IP.
// Counters are sharded to reduce lock contention across concurrent handlers.
type FixedWindow struct {
	window time.Duration
	max    int
	maxStr string // cached for the X-RateLimit-Limit header
	shards [shardCount]*shard

	// now is swappable for tests.
	now func() time.Time
}

// NewFixedWindow creates a fixed-window limiter.
func NewFixedWindow(cfg Config) *FixedWindow {
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Max <= 0 {
		cfg.Max = 100
	}

	fw := &FixedWindow{
		window: cfg.Window,
		max:    cfg.Max,
		maxStr: strconv.Itoa(cfg.Max),
		now:    time.Now,
	}
	for i := range fw.shards {
		fw.shards[i] = &shard{items: make(map[string]*window)}
	}

	go fw.cleanup()

	return fw
}

// Allow checks whether a request from key fits in the current window.
func (fw *FixedWindow) Allow(key string) (allowed bool, remaining int, reset time.Time) {
	now := fw.now()

	s := fw.shards[shardFor(key)]
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.items[key]
	if !ok || now.Sub(w.start) >= fw.window {
		w = &window{start: now}
		s.items[key] = w
	}

	reset = w.start.Add(fw.window)
	if w.count >= fw.max {
		return false, 0, reset
	}

	w.count++
	return true, fw.max - w.count, reset
}

// cleanup drops expired windows periodically so idle clients don't leak.
func (fw *FixedWindow) cleanup() {
	ticker := time.NewTicker(fw.window)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := fw.now().Add(-2 * fw.window)
		for _, s := range fw.shards {
			s.mu.Lock()
			for k, w := range s.items {
				if w.start.Before(cutoff) {
					delete(s.items, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Middleware returns a middleware enforcing the limit per client IP.
func (fw *FixedWindow) Middleware(onLimited func()) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, reset := fw.Allow(ClientIP(r))

			w.Header().Set("X-RateLimit-Limit", fw.maxStr)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				if onLimited != nil {
					onLimited()
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(reset).Seconds())+1))
				errors.ErrTooManyRequests.WriteJSON(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// shardFor maps a key to a shard index with the FNV-1a hash.
func shardFor(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

// ClientIP extracts the client IP, honoring the first X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
