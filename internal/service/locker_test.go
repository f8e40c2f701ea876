package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MorseWayne/ev_dealer/internal/domain"
)

func TestLocalVariantLocker_Serializes(t *testing.T) {
	locker := NewLocalVariantLocker()
	key := domain.VariantKey{ProductID: 1, VariantHash: "abc"}

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive)
	assert.Empty(t, locker.(*localVariantLocker).locks, "entries are reclaimed")
}

func TestLocalVariantLocker_Timeout(t *testing.T) {
	locker := NewLocalVariantLocker()
	key := domain.VariantKey{ProductID: 1, VariantHash: "abc"}

	unlock, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// 不同变体互不影响
	other, err := locker.Lock(context.Background(), domain.VariantKey{ProductID: 2, VariantHash: "abc"})
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), key)
	require.NoError(t, err)
	again()
}
