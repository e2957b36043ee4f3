package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	count int
	until time.Time
}

// MemoryLimiter counts requests per key in process memory. Expired buckets
// are swept at most once per window so unseen keys do not accumulate.
type MemoryLimiter struct {
	limit     int
	per       time.Duration
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

func NewMemoryLimiter(limit int, per time.Duration) *MemoryLimiter {
	return &MemoryLimiter{limit: limit, per: per, now: time.Now, buckets: make(map[string]*bucket)}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if now.After(m.nextSweep) {
		for k, b := range m.buckets {
			if now.After(b.until) {
				delete(m.buckets, k)
			}
		}
		m.nextSweep = now.Add(m.per)
	}
	b, ok := m.buckets[key]
	if !ok || now.After(b.until) {
		b = &bucket{count: 0, until: now.Add(m.per)}
		m.buckets[key] = b
	}
	if b.count >= m.limit {
		return false, nil
	}
	b.count++
	return true, nil
}

// RedisLimiter shares fixed-window counters across API instances.
type RedisLimiter struct {
	limit int
	per   time.Duration
	now   func() time.Time
	incr  func(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func NewRedisLimiter(client *redis.Client, limit int, per time.Duration) *RedisLimiter {
	return &RedisLimiter{
		limit: limit,
		per:   per,
		now:   time.Now,
		incr: func(ctx context.Context, key string, ttl time.Duration) (int64, error) {
			var count *redis.IntCmd
			_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				count = pipe.Incr(ctx, key)
				pipe.Expire(ctx, key, ttl)
				return nil
			})
			if err != nil {
				return 0, err
			}
			return count.Val(), nil
		},
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := l.now().UnixNano() / int64(l.per)
	count, err := l.incr(ctx, "ratelimit:"+key+":"+strconv.FormatInt(window, 10), l.per)
	if err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return count <= int64(l.limit), nil
}

// RateLimitWith limits by client IP. Limiter errors let the request through.
func RateLimitWith(limiter Limiter, l zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			ok, err := limiter.Allow(r.Context(), ip)
			if err != nil {
				l.Warn().Err(err).Str("ip", ip).Msg("rate limit: limiter unavailable")
				ok = true
			}
			if !ok {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPForRateLimit(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		if net.ParseIP(host) != nil {
			return host
		}
	} else if net.ParseIP(r.RemoteAddr) != nil {
		return r.RemoteAddr
	}

	return r.RemoteAddr
}
