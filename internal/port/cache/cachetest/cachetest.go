// Package cachetest provides a behavioural test suite for cache.Cache
// implementations.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Strob0t/reactor/internal/port/cache"
)

// Run exercises c with the key shapes the reactor uses.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "token.p-1", []byte(`{"token":"t1"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "token.p-1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"token":"t1"}` {
			t.Fatalf("expected stored token, got %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "token.nobody")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "token.p-2", []byte("v"), time.Minute)
		if err := c.Delete(ctx, "token.p-2"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "token.p-2")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "token.never"); err != nil {
			t.Fatal("Delete of unknown key should not error")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "token.p-3", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "token.p-3", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "token.p-3")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got found=%v val=%s", found, val)
		}
	})

	t.Run("ScopedKeysAreIndependent", func(t *testing.T) {
		_ = c.Set(ctx, "idem.alice.k1", []byte("alice"), time.Minute)
		_ = c.Set(ctx, "idem.bob.k1", []byte("bob"), time.Minute)
		val, found, err := c.Get(ctx, "idem.alice.k1")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "alice" {
			t.Fatalf("expected alice's entry, got found=%v val=%s", found, val)
		}
	})
}
