package ristretto

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/reactor/internal/port/cache/cachetest"
)

func TestCacheCompliance(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	cachetest.Run(t, c)
}

func TestCache_SetGetDelete(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "token.p-1", []byte(`{"token":"abc"}`), time.Minute); err != nil {
		t.Fatal(err)
	}
	val, found, err := c.Get(ctx, "token.p-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != `{"token":"abc"}` {
		t.Fatalf("expected hit with value, got found=%v val=%s", found, val)
	}

	if err := c.Delete(ctx, "token.p-1"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := c.Get(ctx, "token.p-1"); found {
		t.Fatal("expected miss after Delete")
	}
}

func TestCache_Miss(t *testing.T) {
	c, err := New(1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if _, found, err := c.Get(context.Background(), "nope"); err != nil || found {
		t.Fatalf("expected clean miss, got found=%v err=%v", found, err)
	}
}
