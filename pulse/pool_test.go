package pulse

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func startPool(t *testing.T, cfg PoolConfig) *Pool {
	t.Helper()
	p := NewPool(cfg, zaptest.NewLogger(t).Sugar())
	p.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Stop(ctx)
	})
	return p
}

func drain(t *testing.T, p *Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Drain(ctx))
}

func TestPoolPerKeyFIFO(t *testing.T) {
	p := startPool(t, PoolConfig{Workers: 8})

	const keys = 4
	const perKey = 200

	var mu sync.Mutex
	seen := make(map[int][]int)

	for i := 0; i < perKey; i++ {
		for k := 0; k < keys; k++ {
			require.True(t, p.Submit(k, func() {
				mu.Lock()
				seen[k] = append(seen[k], i)
				mu.Unlock()
			}))
		}
	}

	drain(t, p)

	for k := 0; k < keys; k++ {
		require.Len(t, seen[k], perKey)
		for i, v := range seen[k] {
			assert.Equal(t, i, v, "key %d out of order", k)
		}
	}
	assert.Equal(t, uint64(keys*perKey), p.Stats().Processed)
	assert.Zero(t, p.Stats().Keys)
}

func TestPoolSameKeyNeverConcurrent(t *testing.T) {
	p := startPool(t, PoolConfig{Workers: 4})

	var running, overlaps atomic.Int32
	for i := 0; i < 50; i++ {
		p.Submit("bus", func() {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(time.Millisecond)
			running.Add(-1)
		})
	}

	drain(t, p)
	assert.Zero(t, overlaps.Load())
}

func TestPoolSubmitDoesNotBlock(t *testing.T) {
	p := startPool(t, PoolConfig{Workers: 1})

	release := make(chan struct{})
	p.Submit("slow", func() { <-release })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			p.Submit("slow", func() {})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked behind a running task")
	}
	close(release)
	drain(t, p)
}

func TestPoolDrainWaitersDoNotDelayWorkers(t *testing.T) {
	p := startPool(t, PoolConfig{Workers: 2})

	started := make(chan struct{})
	release := make(chan struct{})
	p.Submit("slow", func() {
		close(started)
		<-release
	})
	<-started

	var drainers sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		drainers.Add(1)
		go func() {
			defer drainers.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs <- p.Drain(ctx)
		}()
	}
	time.Sleep(20 * time.Millisecond)

	fast := make(chan struct{})
	p.Submit("fast", func() { close(fast) })
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("idle worker did not pick up a task while Drain was waiting")
	}

	close(release)
	drainers.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	p := NewPool(PoolConfig{Workers: 2}, zap.New(core).Sugar())
	p.Start()
	defer p.Stop(context.Background())

	var ran atomic.Bool
	p.Submit("k", func() { panic("listener exploded") })
	p.Submit("k", func() { ran.Store(true) })

	drain(t, p)

	assert.True(t, ran.Load(), "task after a panic still runs")
	assert.Equal(t, uint64(1), p.Stats().Panics)
	require.Equal(t, 1, logs.FilterMessage("Event task panicked").Len())
	assert.Equal(t, "listener exploded", logs.FilterMessage("Event task panicked").All()[0].ContextMap()["panic"])
}

func TestPoolStopRefusesNewTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1}, zap.NewNop().Sugar())
	p.Start()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		p.Submit("k", func() { count.Add(1) })
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(10), count.Load(), "queued tasks finish before Stop returns")
	assert.False(t, p.Submit("k", func() {}))
	assert.NoError(t, p.Stop(context.Background()))
}

func TestPoolDrainHonorsContext(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1}, zap.NewNop().Sugar())
	p.Submit("k", func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Drain(ctx), context.DeadlineExceeded)

	p.Start()
	drain(t, p)
	require.NoError(t, p.Stop(context.Background()))
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()
	assert.Positive(t, cfg.Workers)

	p := NewPool(PoolConfig{}, nil)
	assert.Equal(t, cfg.Workers, p.Stats().Workers)
}
