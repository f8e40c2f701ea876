package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCache_SetGetExpire(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	if err := c.Set(ctx, "k", map[string]int{"n": 1}, 20*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	var got map[string]int
	if err := c.Get(ctx, "k", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("expected n=1, got %v", got)
	}

	time.Sleep(40 * time.Millisecond)
	if err := c.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected cache miss after expiry, got %v", err)
	}
}

func TestMemoryCache_SetNXConcurrent(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := c.SetNX(ctx, "lock", 1, time.Minute)
			if err != nil {
				t.Errorf("SetNX failed: %v", err)
				return
			}
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one SetNX winner, got %d", wins)
	}
}

func TestNullCache(t *testing.T) {
	c := NewNullCache()
	ctx := context.Background()

	_ = c.Set(ctx, "k", "v", time.Minute)
	var v string
	if err := c.Get(ctx, "k", &v); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("expected cache miss, got %v", err)
	}
	ok, _ := c.SetNX(ctx, "k", "v", time.Minute)
	if !ok {
		t.Error("NullCache SetNX should always succeed")
	}
}

func TestIdempotencyStore(t *testing.T) {
	store := NewIdempotencyStore(NewMemoryCache(), time.Minute)
	ctx := context.Background()

	tests := []struct {
		name  string
		scope string
		key   string
		want  bool
	}{
		{"first use", "user:1", "abc", true},
		{"replay", "user:1", "abc", false},
		{"same key other scope", "user:2", "abc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Acquire(ctx, tt.scope, tt.key)
			if err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Acquire() = %v, want %v", got, tt.want)
			}
		})
	}

	if err := store.Release(ctx, "user:1", "abc"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if ok, _ := store.Acquire(ctx, "user:1", "abc"); !ok {
		t.Error("key should be reusable after release")
	}
}
