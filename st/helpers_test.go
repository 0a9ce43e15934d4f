package st

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/pulse"
)

const testNS = "org.s7s.test"

// fakeClock hands out a settable time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestContext returns a context with a running pool that is stopped at
// the end of the test.
func newTestContext(t *testing.T, clock *fakeClock) *Context {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	pool := pulse.NewPool(pulse.PoolConfig{Workers: 2}, log)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	c := &Context{Pool: pool, Logger: log}
	if clock != nil {
		c.Clock = clock.Now
	}
	return c
}

func newTestRoot(t *testing.T, ctx *Context) *Document {
	t.Helper()
	root, err := NewRoot(oid.MustParse(testNS+":/"), ctx)
	require.NoError(t, err)
	return root
}

func mustAttribute(t *testing.T, d *Document, path ...string) *Attribute {
	t.Helper()
	a, err := d.Attribute(path...)
	require.NoError(t, err)
	return a
}

func drainEvents(t *testing.T, ctx *Context) {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ctx.Pool.Drain(c))
}

func key(path string) string {
	return testNS + ":/" + path
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// requireFailure asserts err is a *MergeError with exactly one failure of kind.
func requireFailure(t *testing.T, err error, kind error) MergeFailure {
	t.Helper()
	var merr *MergeError
	require.True(t, errors.As(err, &merr), "expected *MergeError, got %v", err)
	require.Len(t, merr.Failures, 1)
	assert.True(t, errors.Is(merr.Failures[0].Err, kind), "got %v", merr.Failures[0].Err)
	return merr.Failures[0]
}
