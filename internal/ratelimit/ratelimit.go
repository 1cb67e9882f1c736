// Package ratelimit limits how often one client address may open a chat
// connection.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter reports whether another attempt for key is allowed. An allowed
// attempt is recorded.
type Limiter interface {
	Allow(key string) bool
}

// IPLimiter tracks attempts per IP within a sliding window, in memory.
type IPLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
	now     func() time.Time
}

// NewIPLimiter creates an IPLimiter allowing max attempts per window.
func NewIPLimiter(max int, window time.Duration) *IPLimiter {
	return &IPLimiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
		now:     time.Now,
	}
}

// Allow returns true if the IP has not exceeded the rate limit.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.prune(ip, now)
	if len(valid) >= l.max {
		return false
	}
	l.entries[ip] = append(valid, now)
	return true
}

// prune drops timestamps older than the window and must be called with
// mu held.
func (l *IPLimiter) prune(ip string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	timestamps := l.entries[ip]
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.entries, ip)
		return nil
	}
	l.entries[ip] = valid
	return valid
}

// Sweep forgets addresses with no attempts inside the window.
func (l *IPLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for ip := range l.entries {
		l.prune(ip, now)
	}
}

// Len returns the number of tracked addresses.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// windowScript increments the attempt counter and gives it a TTL in one
// atomic step. A key found without a TTL gets one too, so a counter can
// never outlive its window.
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 or redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter counts attempts per key in fixed windows stored in Redis,
// so several server instances share one budget per address.
type RedisLimiter struct {
	client redis.Scripter
	max    int64
	window time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisLimiter creates a RedisLimiter allowing max attempts per window.
func NewRedisLimiter(client redis.Scripter, max int, window time.Duration, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		max:    int64(max),
		window: window,
		prefix: "chatmatch:ratelimit:",
		logger: logger,
	}
}

// Allow increments the key's counter for the current window. Redis
// errors allow the attempt.
func (l *RedisLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := windowScript.Run(ctx, l.client, []string{l.prefix + key}, l.window.Milliseconds()).Int64()
	if err != nil {
		l.logger.Warn("redis rate limit check failed, allowing", zap.String("key", key), zap.Error(err))
		return true
	}
	return n <= l.max
}
