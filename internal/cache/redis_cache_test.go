package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRedisCache_Basic(t *testing.T) {
	// 需要本地 Redis，连不上时跳过
	if testing.Short() {
		t.Skip("Skipping Redis test in short mode")
	}

	cache, err := NewRedisCache("localhost:6379", "", 1)
	if err != nil {
		t.Skipf("Skipping Redis test, cannot connect: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	_ = cache.FlushDB(ctx)

	t.Run("Set and Get", func(t *testing.T) {
		key := "test:variant"
		value := map[string]interface{}{"product_id": 1, "stock": 10}

		if err := cache.Set(ctx, key, value, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		var result map[string]interface{}
		if err := cache.Get(ctx, key, &result); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if result["stock"] != float64(10) {
			t.Errorf("Expected stock=10, got %v", result["stock"])
		}
	})

	t.Run("Miss", func(t *testing.T) {
		var result string
		if err := cache.Get(ctx, "test:missing", &result); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("SetNX", func(t *testing.T) {
		key := "test:nx"

		ok, err := cache.SetNX(ctx, key, "first", time.Minute)
		if err != nil || !ok {
			t.Fatalf("First SetNX should succeed: ok=%v err=%v", ok, err)
		}

		ok, err = cache.SetNX(ctx, key, "second", time.Minute)
		if err != nil {
			t.Fatalf("SetNX failed: %v", err)
		}
		if ok {
			t.Error("Second SetNX should fail")
		}

		var result string
		_ = cache.Get(ctx, key, &result)
		if result != "first" {
			t.Errorf("Expected 'first', got %v", result)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		key := "test:del"
		_ = cache.Set(ctx, key, "value", time.Minute)

		if err := cache.Del(ctx, key); err != nil {
			t.Fatalf("Del failed: %v", err)
		}
		if exists, _ := cache.Exists(ctx, key); exists {
			t.Error("Key should be deleted")
		}
	})
}
