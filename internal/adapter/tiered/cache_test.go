package tiered

import (
	"context"
	"testing"
	"time"
)

type memCache struct {
	data map[string][]byte
	sets int
	gets int
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.gets++
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.sets++
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestGetPrefersL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l1.data["k"] = []byte("from-l1")
	l2.data["k"] = []byte("from-l2")
	c := New(l1, l2, time.Minute)

	val, found, err := c.Get(context.Background(), "k")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if string(val) != "from-l1" {
		t.Fatalf("val = %s", val)
	}
	if l2.gets != 0 {
		t.Fatal("L2 must not be consulted on L1 hit")
	}
}

func TestL2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.data["k"] = []byte("from-l2")
	c := New(l1, l2, time.Minute)

	val, found, err := c.Get(context.Background(), "k")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if string(val) != "from-l2" {
		t.Fatalf("val = %s", val)
	}
	if string(l1.data["k"]) != "from-l2" {
		t.Fatal("expected L1 backfill")
	}
}

func TestMissOnBothLevels(t *testing.T) {
	c := New(newMemCache(), newMemCache(), time.Minute)
	_, found, err := c.Get(context.Background(), "missing")
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
}

func TestSetWritesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if string(l1.data["k"]) != "v" || string(l2.data["k"]) != "v" {
		t.Fatal("expected value in both levels")
	}
}

func TestDeleteRemovesBothLevels(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l1.data["k"] = []byte("v")
	l2.data["k"] = []byte("v")
	c := New(l1, l2, time.Minute)

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("L1 still holds key")
	}
	if _, ok := l2.data["k"]; ok {
		t.Fatal("L2 still holds key")
	}
}
