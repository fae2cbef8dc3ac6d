package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb), mr
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("val=%q found=%v err=%v", val, found, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	_, found, err = c.Get(ctx, "k")
	if err != nil || found {
		t.Fatalf("found=%v err=%v after delete", found, err)
	}
}

func TestMissIsNotAnError(t *testing.T) {
	c, _ := newTestCache(t)
	_, found, err := c.Get(context.Background(), "never-set")
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(2 * time.Second)

	_, found, err := c.Get(ctx, "k")
	if err != nil || found {
		t.Fatalf("found=%v err=%v after expiry", found, err)
	}
}

func TestConnectRejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "not-a-url"); err == nil {
		t.Fatal("expected parse error")
	}
}
