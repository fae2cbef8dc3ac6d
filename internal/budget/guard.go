// Package budget enforces the per-tenant daily SERP query cap with a
// reservation protocol over atomic Redis counters. Redis being down fails
// closed: no reservation, no spend.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vantahire/signal/internal/domain/sourcing"
)

// Reservation is the outcome of one reserve attempt.
type Reservation struct {
	Allowed         bool
	MaxQueries      int
	Key             string
	ReservedQueries int
	SkippedReason   string
}

// Guard reserves SERP queries against the per-tenant daily cap.
type Guard struct {
	rdb      *redis.Client
	dailyCap int
	logger   *slog.Logger
	now      func() time.Time
}

func NewGuard(rdb *redis.Client, dailyCap int, logger *slog.Logger) *Guard {
	return &Guard{
		rdb:      rdb,
		dailyCap: dailyCap,
		logger:   logger,
		now:      time.Now,
	}
}

// Reserve tries to reserve up to want queries for the tenant's current UTC
// day. It walks down from want to 1, keeping the largest reservation that
// fits under the cap. A cap ≤ 0 means uncapped.
func (g *Guard) Reserve(ctx context.Context, tenantID string, want int) Reservation {
	if want <= 0 {
		return Reservation{Allowed: false, SkippedReason: sourcing.StopNoQueries}
	}
	if g.dailyCap <= 0 {
		return Reservation{Allowed: true, MaxQueries: want}
	}

	key := g.key(tenantID)
	for reserve := want; reserve >= 1; reserve-- {
		total, err := g.rdb.IncrBy(ctx, key, int64(reserve)).Result()
		if err != nil {
			g.logger.Warn("serp cap guard unavailable, skipping discovery",
				"tenant_id", tenantID,
				"error", err,
			)
			return Reservation{Allowed: false, SkippedReason: sourcing.SkipCapGuardUnavailable}
		}
		if total == int64(reserve) {
			// Fresh counter for this tenant-day: expire at UTC midnight.
			_ = g.rdb.Expire(ctx, key, g.untilMidnight()).Err()
		}
		if total <= int64(g.dailyCap) {
			return Reservation{
				Allowed:         true,
				MaxQueries:      reserve,
				Key:             key,
				ReservedQueries: reserve,
			}
		}
		if err := g.rdb.DecrBy(ctx, key, int64(reserve)).Err(); err != nil {
			g.logger.Warn("serp cap reservation rollback failed",
				"tenant_id", tenantID,
				"reserve", reserve,
				"error", err,
			)
			return Reservation{Allowed: false, SkippedReason: sourcing.SkipCapGuardUnavailable}
		}
	}
	return Reservation{Allowed: false, SkippedReason: sourcing.SkipDailyCapReached}
}

// Release returns the unused part of a reservation to the tenant's budget.
func (g *Guard) Release(ctx context.Context, res Reservation, usedQueries int) {
	if !res.Allowed || res.Key == "" {
		return
	}
	unused := res.ReservedQueries - usedQueries
	if unused <= 0 {
		return
	}
	if err := g.rdb.DecrBy(ctx, res.Key, int64(unused)).Err(); err != nil {
		g.logger.Warn("serp cap release failed",
			"key", res.Key,
			"unused", unused,
			"error", err,
		)
	}
}

func (g *Guard) key(tenantID string) string {
	return fmt.Sprintf("sourcing:serper:%s:%s", tenantID, g.now().UTC().Format("2006-01-02"))
}

func (g *Guard) untilMidnight() time.Duration {
	now := g.now().UTC()
	midnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return midnight.Sub(now)
}
