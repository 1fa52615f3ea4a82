package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/observability"
)

const (
	defaultLimit  = 5
	defaultWindow = 120 * time.Second
	defaultPrefix = "grader:judge_rate_limit:"
	anonymous     = "anonymous"
)

// The window starts with the first admitted request and resets lazily on
// the first request past its end.
var hitScript = redis.NewScript(`
local start = redis.call('HGET', KEYS[1], 'start')
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
if (not start) or (now - tonumber(start) >= window) then
  redis.call('HSET', KEYS[1], 'start', ARGV[1], 'count', 1)
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, 1, now}
end
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
if count >= limit then
  return {0, count, tonumber(start)}
end
count = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {1, count, tonumber(start)}
`)

// Decision describes the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Config groups limiter settings.
type Config struct {
	Limit  int
	Window time.Duration
	Prefix string
	Redis  redis.UniversalClient
	Logger zerolog.Logger
}

// Limiter admits at most Limit calls per caller within a fixed window.
type Limiter struct {
	limit  int
	window time.Duration
	prefix string
	redis  redis.UniversalClient
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	local map[string]*localWindow
}

type localWindow struct {
	start time.Time
	count int
}

// New constructs a limiter. A nil redis client keeps all counters in process.
func New(cfg Config) *Limiter {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}

	return &Limiter{
		limit:  cfg.Limit,
		window: cfg.Window,
		prefix: cfg.Prefix,
		redis:  cfg.Redis,
		logger: cfg.Logger.With().Str("component", "rate_limiter").Logger(),
		now:    time.Now,
		local:  make(map[string]*localWindow),
	}
}

// Allow records a call for the caller and reports whether it is admitted.
func (l *Limiter) Allow(ctx context.Context, caller string) Decision {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = anonymous
	}
	now := l.now()

	if l.redis != nil {
		decision, err := l.allowRedis(ctx, caller, now)
		if err == nil {
			l.record(decision, "redis")
			return decision
		}
		l.logger.Warn().Err(err).Str("caller", caller).Msg("rate limit store unavailable, using local counters")
	}

	decision := l.allowLocal(caller, now)
	l.record(decision, "local")
	return decision
}

func (l *Limiter) allowRedis(ctx context.Context, caller string, now time.Time) (Decision, error) {
	raw, err := hitScript.Run(ctx, l.redis, []string{l.prefix + caller},
		now.UnixMilli(), l.window.Milliseconds(), l.limit).Result()
	if err != nil {
		return Decision{}, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", raw)
	}
	allowed, _ := values[0].(int64)
	count, _ := values[1].(int64)
	start, _ := values[2].(int64)

	return l.decision(allowed == 1, int(count), time.UnixMilli(start)), nil
}

func (l *Limiter) allowLocal(caller string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.local[caller]
	if !ok || now.Sub(entry.start) >= l.window {
		entry = &localWindow{start: now}
		l.local[caller] = entry
	}
	if entry.count >= l.limit {
		return l.decision(false, entry.count, entry.start)
	}
	entry.count++
	return l.decision(true, entry.count, entry.start)
}

func (l *Limiter) decision(allowed bool, count int, start time.Time) Decision {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   allowed,
		Count:     count,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   start.Add(l.window),
	}
}

func (l *Limiter) record(decision Decision, store string) {
	result := "allowed"
	if !decision.Allowed {
		result = "rejected"
	}
	observability.RateLimitDecisions().WithLabelValues(result, store).Inc()
}
