package track

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys for the process-wide classifier circuit breaker.
const (
	breakerFailuresKey  = "track:groq:cb:failures"
	breakerOpenUntilKey = "track:groq:cb:open_until"
)

// Breaker is a Redis-backed circuit breaker shared by every worker process.
// Failures are counted in a rolling window; reaching the threshold opens the
// breaker for the cooldown. Redis errors default to closed so that breaker
// trouble never blocks classification (fail-safe toward use).
type Breaker struct {
	rdb       *redis.Client
	threshold int
	window    time.Duration
	cooldown  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewBreaker creates a classifier breaker over the given Redis client.
func NewBreaker(rdb *redis.Client, threshold int, window, cooldown time.Duration, logger *slog.Logger) *Breaker {
	return &Breaker{
		rdb:       rdb,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		logger:    logger,
		now:       time.Now,
	}
}

// Allow reports whether a provider call may proceed.
func (b *Breaker) Allow(ctx context.Context) bool {
	if b == nil || b.rdb == nil {
		return true
	}
	val, err := b.rdb.Get(ctx, breakerOpenUntilKey).Result()
	if err != nil {
		if err != redis.Nil {
			b.logger.Warn("breaker state read failed, defaulting closed", "error", err)
		}
		return true
	}
	openUntilMs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return true
	}
	return b.now().UnixMilli() >= openUntilMs
}

// RecordFailure increments the windowed failure counter and opens the
// breaker once the threshold is reached.
func (b *Breaker) RecordFailure(ctx context.Context) {
	if b == nil || b.rdb == nil {
		return
	}
	count, err := b.rdb.Incr(ctx, breakerFailuresKey).Result()
	if err != nil {
		b.logger.Warn("breaker failure count failed", "error", err)
		return
	}
	if count == 1 {
		// First failure in a fresh window starts the window TTL.
		_ = b.rdb.Expire(ctx, breakerFailuresKey, b.window).Err()
	}
	if count >= int64(b.threshold) {
		openUntil := b.now().Add(b.cooldown).UnixMilli()
		if err := b.rdb.Set(ctx, breakerOpenUntilKey, openUntil, b.cooldown).Err(); err != nil {
			b.logger.Warn("breaker open failed", "error", err)
			return
		}
		b.logger.Warn("classifier breaker opened",
			"failures", count,
			"cooldown", b.cooldown,
		)
	}
}
