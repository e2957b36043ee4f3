package middleware

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		remoteAddr string
		want       string
	}{
		{
			name:       "single ip",
			header:     "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "multiple ips use first",
			header:     " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "invalid forwarded falls back",
			header:     "invalid",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "empty forwarded uses remote host",
			header:     "",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			header:     "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote fallback",
			header:     "invalid",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "remote without port",
			header:     "invalid",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.header != "" {
				req.Header.Set("X-Forwarded-For", tc.header)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		if got, _ := limiter.Allow(ctx, "203.0.113.1"); got != want {
			t.Fatalf("request %d allowed = %v, want %v", i, got, want)
		}
	}
	if got, _ := limiter.Allow(ctx, "203.0.113.2"); !got {
		t.Fatalf("other client was limited")
	}
	now = now.Add(61 * time.Second)
	if got, _ := limiter.Allow(ctx, "203.0.113.1"); !got {
		t.Fatalf("limit not reset after window")
	}
}

func TestMemoryLimiterSweepsExpiredBuckets(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(5, time.Minute)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		limiter.Allow(ctx, fmt.Sprintf("198.51.100.%d", i))
	}
	if len(limiter.buckets) != 100 {
		t.Fatalf("buckets = %d, want 100", len(limiter.buckets))
	}
	now = now.Add(2 * time.Minute)
	if got, _ := limiter.Allow(ctx, "203.0.113.1"); !got {
		t.Fatalf("fresh client was limited")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("buckets after sweep = %d, want 1", len(limiter.buckets))
	}
}

func TestRedisLimiterKeysByWindow(t *testing.T) {
	counts := map[string]int64{}
	var ttls []time.Duration
	limiter := &RedisLimiter{
		limit: 1,
		per:   time.Minute,
		now:   func() time.Time { return time.Unix(120, 0) },
		incr: func(_ context.Context, key string, ttl time.Duration) (int64, error) {
			counts[key]++
			ttls = append(ttls, ttl)
			return counts[key], nil
		},
	}
	ctx := context.Background()
	if ok, err := limiter.Allow(ctx, "203.0.113.1"); !ok || err != nil {
		t.Fatalf("first request = %v, %v", ok, err)
	}
	if ok, _ := limiter.Allow(ctx, "203.0.113.1"); ok {
		t.Fatalf("second request allowed")
	}
	if counts["ratelimit:203.0.113.1:2"] != 2 {
		t.Fatalf("counter keys = %v", counts)
	}
	if ttls[0] != time.Minute {
		t.Fatalf("ttl = %s, want 1m", ttls[0])
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitWith(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	limited := RateLimitWith(NewMemoryLimiter(1, time.Minute), zerolog.Nop())(ok)
	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
		if rec.Code != want {
			t.Fatalf("request %d status = %d, want %d", i, rec.Code, want)
		}
	}

	var logs strings.Builder
	open := RateLimitWith(failingLimiter{}, zerolog.New(&logs))(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("limiter error status = %d, want request let through", rec.Code)
	}
	if !strings.Contains(logs.String(), "limiter unavailable") {
		t.Fatalf("limiter error not logged: %s", logs.String())
	}
}
