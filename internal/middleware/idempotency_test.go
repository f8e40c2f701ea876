package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MorseWayne/ev_dealer/internal/cache"
)

func newIdempotentEngine(status *int) *gin.Engine {
	store := cache.NewIdempotencyStore(cache.NewMemoryCache(), time.Hour)
	r := gin.New()
	r.Use(Idempotency(store, zap.NewNop()))
	handler := func(c *gin.Context) { c.Status(*status) }
	r.POST("/allocations", handler)
	r.GET("/allocations", handler)
	return r
}

func send(r http.Handler, method, key string) int {
	req := httptest.NewRequest(method, "/allocations", nil)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIdempotency(t *testing.T) {
	status := http.StatusCreated
	r := newIdempotentEngine(&status)

	if code := send(r, http.MethodPost, "k1"); code != http.StatusCreated {
		t.Fatalf("first request: expected 201, got %d", code)
	}
	if code := send(r, http.MethodPost, "k1"); code != http.StatusConflict {
		t.Errorf("replay: expected 409, got %d", code)
	}
	if code := send(r, http.MethodPost, "k2"); code != http.StatusCreated {
		t.Errorf("new key: expected 201, got %d", code)
	}
	// 无幂等键或读请求不受影响
	if code := send(r, http.MethodPost, ""); code != http.StatusCreated {
		t.Errorf("no key: expected 201, got %d", code)
	}
	if code := send(r, http.MethodGet, "k1"); code != http.StatusCreated {
		t.Errorf("get: expected passthrough, got %d", code)
	}
}

func TestIdempotency_FailedRequestReleasesKey(t *testing.T) {
	status := http.StatusUnprocessableEntity
	r := newIdempotentEngine(&status)

	if code := send(r, http.MethodPost, "k1"); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	status = http.StatusCreated
	if code := send(r, http.MethodPost, "k1"); code != http.StatusCreated {
		t.Errorf("retry after failure: expected 201, got %d", code)
	}
}

// ctxCache 与 Redis 客户端一样，上下文取消后拒绝操作
type ctxCache struct {
	*cache.MemoryCache
}

func (c ctxCache) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.MemoryCache.Del(ctx, keys...)
}

func TestIdempotency_ReleaseSurvivesCancelledRequest(t *testing.T) {
	store := cache.NewIdempotencyStore(ctxCache{cache.NewMemoryCache()}, time.Hour)
	timedOut := true

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Set("cancel", cancel)
		c.Next()
	})
	r.Use(Idempotency(store, zap.NewNop()))
	r.POST("/allocations", func(c *gin.Context) {
		if timedOut {
			c.MustGet("cancel").(context.CancelFunc)()
			c.Status(http.StatusGatewayTimeout)
			return
		}
		c.Status(http.StatusCreated)
	})

	if code := send(r, http.MethodPost, "k1"); code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", code)
	}
	timedOut = false
	if code := send(r, http.MethodPost, "k1"); code != http.StatusCreated {
		t.Errorf("retry after timeout: expected 201, got %d", code)
	}
}
