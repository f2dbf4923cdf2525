package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/reactor/internal/config"
	"github.com/Strob0t/reactor/internal/port/cache"
)

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestNewCachesKeepsTokensOutOfL2(t *testing.T) {
	ctx := context.Background()
	l2 := &memCache{}
	cs, err := newCaches(config.Cache{L1MaxSizeMB: 1, L2Bucket: "REACTOR_CACHE", L2TTL: time.Minute},
		func() (cache.Cache, error) { return l2, nil })
	if err != nil {
		t.Fatalf("newCaches: %v", err)
	}
	defer cs.close()

	if err := cs.tokens.Set(ctx, "token.p1", []byte(`{"token":"secret"}`), time.Minute); err != nil {
		t.Fatalf("set token: %v", err)
	}
	if _, ok, _ := l2.Get(ctx, "token.p1"); ok {
		t.Fatal("expected token to stay out of the L2 bucket")
	}
	if _, ok, _ := cs.tokens.Get(ctx, "token.p1"); !ok {
		t.Fatal("expected token in L1")
	}

	if err := cs.shared.Set(ctx, "idem.p1.k", []byte("resp"), time.Minute); err != nil {
		t.Fatalf("set shared: %v", err)
	}
	if _, ok, _ := l2.Get(ctx, "idem.p1.k"); !ok {
		t.Fatal("expected shared entry in the L2 bucket")
	}
}

func TestNewCachesWithoutBucketSkipsL2(t *testing.T) {
	called := false
	cs, err := newCaches(config.Cache{L1MaxSizeMB: 1}, func() (cache.Cache, error) {
		called = true
		return &memCache{}, nil
	})
	if err != nil {
		t.Fatalf("newCaches: %v", err)
	}
	defer cs.close()

	if called {
		t.Fatal("expected L2 not to be opened without a bucket")
	}
	if cs.tokens != cs.shared {
		t.Fatal("expected tokens and shared entries to use the same L1")
	}
}

func TestNewCachesL2Failure(t *testing.T) {
	boom := errors.New("bucket unavailable")
	_, err := newCaches(config.Cache{L1MaxSizeMB: 1, L2Bucket: "REACTOR_CACHE"}, func() (cache.Cache, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected bucket error, got %v", err)
	}
}
