package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/reactor/internal/adapter/tiered"
	"github.com/Strob0t/reactor/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
}

// failingCache fails every operation.
type failingCache struct{}

var errUnavailable = errors.New("l2 unavailable")

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errUnavailable
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errUnavailable
}

func (failingCache) Delete(context.Context, string) error { return errUnavailable }

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L1
	l1.data["key1"] = []byte("val1")

	val, found, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %s", val)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Set only in L2
	l2.data["key2"] = []byte("val2")

	val, found, err := c.Get(ctx, "key2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "val2" {
		t.Fatalf("expected val2, got %s", val)
	}

	// Verify backfill into L1
	l1Val, ok := l1.data["key2"]
	if !ok {
		t.Fatal("expected L1 backfill")
	}
	if string(l1Val) != "val2" {
		t.Fatalf("expected backfilled val2, got %s", l1Val)
	}
}

func TestTiered_Miss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "key3", []byte("val3"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["key3"]; !ok {
		t.Fatal("expected key3 in L1")
	}
	if _, ok := l2.data["key3"]; !ok {
		t.Fatal("expected key3 in L2")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["key4"] = []byte("val4")
	l2.data["key4"] = []byte("val4")

	if err := c.Delete(ctx, "key4"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L1")
	}
	if _, ok := l2.data["key4"]; ok {
		t.Fatal("expected key4 deleted from L2")
	}
}

func TestTiered_NilL2(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, nil, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "k")
	if err != nil || !found || string(val) != "v" {
		t.Fatalf("expected L1-only hit, got found=%v val=%s err=%v", found, val, err)
	}
	if _, found, _ := c.Get(ctx, "missing"); found {
		t.Fatal("expected miss")
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
}

func TestTiered_L2FailureDegrades(t *testing.T) {
	l1 := newMemCache()
	c := tiered.New(l1, failingCache{}, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set should tolerate L2 failure: %v", err)
	}
	if _, ok := l1.data["k"]; !ok {
		t.Fatal("expected L1 write")
	}
	_, found, err := c.Get(ctx, "other")
	if err != nil {
		t.Fatalf("Get should tolerate L2 failure: %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
	if err := c.Delete(ctx, "k"); !errors.Is(err, errUnavailable) {
		t.Fatalf("expected L2 delete error, got %v", err)
	}
}

func TestTieredCompliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}
