package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	key string
	seq int
}

func TestKeyedPool_ProcessesAllItems(t *testing.T) {
	var mu sync.Mutex
	var got []item

	pool := NewKeyedPool(4, 16, func(i item) string { return i.key }, func(_ context.Context, i item) error {
		mu.Lock()
		got = append(got, i)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		require.NoError(t, pool.Submit(ctx, item{key: fmt.Sprintf("key-%d", i%7), seq: i}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	assert.Len(t, got, 100)

	stats := pool.Stats()
	assert.Equal(t, int64(100), stats.Submitted)
	assert.Equal(t, int64(100), stats.Processed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestKeyedPool_SameKeyStaysOrdered(t *testing.T) {
	var mu sync.Mutex
	perKey := make(map[string][]int)

	pool := NewKeyedPool(8, 32, func(i item) string { return i.key }, func(_ context.Context, i item) error {
		mu.Lock()
		perKey[i.key] = append(perKey[i.key], i.seq)
		mu.Unlock()
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	ctx := context.Background()
	keys := []string{"Well_01/temp", "Well_01/pressure", "Well_02/temp"}
	for seq := 0; seq < 50; seq++ {
		for _, k := range keys {
			require.NoError(t, pool.Submit(ctx, item{key: k, seq: seq}))
		}
	}
	require.NoError(t, pool.Stop(5*time.Second))

	for _, k := range keys {
		seqs := perKey[k]
		require.Len(t, seqs, 50, "key %s", k)
		for i, s := range seqs {
			assert.Equal(t, i, s, "key %s processed out of order", k)
		}
	}
}

func TestKeyedPool_SubmitBeforeStart(t *testing.T) {
	pool := NewKeyedPool(2, 4, func(i item) string { return i.key }, func(context.Context, item) error { return nil })

	err := pool.Submit(context.Background(), item{key: "a"})
	assert.ErrorIs(t, err, ErrPoolNotStarted)
}

func TestKeyedPool_SubmitAfterStop(t *testing.T) {
	pool := NewKeyedPool(2, 4, func(i item) string { return i.key }, func(context.Context, item) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))

	err := pool.Submit(context.Background(), item{key: "a"})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestKeyedPool_DoubleStart(t *testing.T) {
	pool := NewKeyedPool(2, 4, func(i item) string { return i.key }, func(context.Context, item) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	defer func() { _ = pool.Stop(time.Second) }()

	assert.ErrorIs(t, pool.Start(context.Background()), ErrPoolAlreadyStarted)
}

func TestKeyedPool_SubmitHonorsContextWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	pool := NewKeyedPool(1, 1, func(i item) string { return i.key }, func(_ context.Context, _ item) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(block)
		_ = pool.Stop(time.Second)
	}()

	ctx := context.Background()
	// First item occupies the worker, second fills the queue.
	require.NoError(t, pool.Submit(ctx, item{key: "a"}))
	require.NoError(t, pool.Submit(ctx, item{key: "a"}))

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(shortCtx, item{key: "a"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyedPool_FailedItemsCounted(t *testing.T) {
	pool := NewKeyedPool(2, 8, func(i item) string { return i.key }, func(_ context.Context, i item) error {
		if i.seq%2 == 1 {
			return fmt.Errorf("item %d rejected", i.seq)
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(ctx, item{key: "k", seq: i}))
	}
	require.NoError(t, pool.Stop(time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestKeyedPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	pool := NewKeyedPool(1, 4, func(i item) string { return i.key }, func(_ context.Context, _ item) error {
		<-block
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(context.Background(), item{key: "a"}))

	err := pool.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrStopTimeout)
	close(block)
}

func TestKeyedPool_StopIdempotent(t *testing.T) {
	pool := NewKeyedPool(2, 4, func(i item) string { return i.key }, func(context.Context, item) error { return nil })
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop(time.Second))
	require.NoError(t, pool.Stop(time.Second))
}
