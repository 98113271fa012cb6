package cache

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_SetGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("t")

	if _, err := c.Get(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("get: %q %v", got, err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Delete idempotente
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("")

	_ = c.Set(ctx, "ephemeral", "x", 20*time.Millisecond)
	if _, err := c.Get(ctx, "ephemeral"); err != nil {
		t.Fatalf("should still exist: %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if _, err := c.Get(ctx, "ephemeral"); !IsNotFound(err) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemory_GetDelSingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewMemory("")
	_ = c.Set(ctx, "code", "payload", time.Minute)

	const n = 16
	var wg sync.WaitGroup
	hits := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := c.GetDel(ctx, "code"); err == nil {
				hits <- v
			}
		}()
	}
	wg.Wait()
	close(hits)

	count := 0
	for v := range hits {
		count++
		if v != "payload" {
			t.Fatalf("unexpected payload %q", v)
		}
	}
	if count != 1 {
		t.Fatalf("single-use violated: %d winners", count)
	}
}
