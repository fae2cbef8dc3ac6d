package track

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestBreaker(t *testing.T) (*Breaker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	b := NewBreaker(rdb, 3, time.Minute, 30*time.Second, slog.New(slog.DiscardHandler))
	return b, mr
}

func TestBreakerClosedByDefault(t *testing.T) {
	b, _ := newTestBreaker(t)
	if !b.Allow(context.Background()) {
		t.Fatal("fresh breaker must allow")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	if !b.Allow(ctx) {
		t.Fatal("below threshold must allow")
	}
	b.RecordFailure(ctx)
	if b.Allow(ctx) {
		t.Fatal("breaker must be open after threshold failures")
	}
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	b, mr := newTestBreaker(t)
	ctx := context.Background()

	base := time.Now()
	b.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	if b.Allow(ctx) {
		t.Fatal("expected open breaker")
	}

	b.now = func() time.Time { return base.Add(31 * time.Second) }
	mr.FastForward(31 * time.Second)
	if !b.Allow(ctx) {
		t.Fatal("breaker must close after cooldown")
	}
}

func TestBreakerSharedAcrossInstances(t *testing.T) {
	b, mr := newTestBreaker(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}

	rdb2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb2.Close() })
	other := NewBreaker(rdb2, 3, time.Minute, 30*time.Second, slog.New(slog.DiscardHandler))

	if other.Allow(ctx) {
		t.Fatal("open state must be visible to other processes")
	}
}

func TestNilBreakerAllows(t *testing.T) {
	var b *Breaker
	if !b.Allow(context.Background()) {
		t.Fatal("nil breaker must allow")
	}
	b.RecordFailure(context.Background())
}
