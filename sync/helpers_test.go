package sync

import (
	"context"
	"encoding/json"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/pulse"
	"github.com/teranos/statetree/st"
)

const testTree = "org.s7s.test:/"

// chanConn implements Conn over a pair of channels for in-process testing.
// Messages are JSON-serialized through the channels to match real WebSocket behavior.
type chanConn struct {
	in     chan json.RawMessage
	out    chan json.RawMessage
	closed chan struct{}
	once   gosync.Once
}

func (c *chanConn) ReadJSON(v interface{}) error {
	select {
	case raw := <-c.in:
		return json.Unmarshal(raw, v)
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

func (c *chanConn) WriteJSON(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case c.out <- raw:
		return nil
	case <-c.closed:
		return fmt.Errorf("connection closed")
	}
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// connPair creates two connected Conn implementations for testing.
func connPair() (*chanConn, *chanConn) {
	ab := make(chan json.RawMessage, 32)
	ba := make(chan json.RawMessage, 32)
	return &chanConn{in: ba, out: ab, closed: make(chan struct{})},
		&chanConn{in: ab, out: ba, closed: make(chan struct{})}
}

// testClock hands out a settable time.
type testClock struct {
	mu  gosync.Mutex
	now int64
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.now)
}

func (c *testClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

// newTree returns an empty tree whose timestamps come from clock.
func newTree(t *testing.T, clock *testClock) *st.Document {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	pool := pulse.NewPool(pulse.PoolConfig{Workers: 2}, log)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	ctx := &st.Context{Pool: pool, Logger: log}
	if clock != nil {
		ctx.Clock = clock.Now
	}
	root, err := st.NewRoot(oid.MustParse(testTree), ctx)
	require.NoError(t, err)
	return root
}

// set writes v at path using the tree's clock set to ts.
func set(t *testing.T, doc *st.Document, clock *testClock, ts int64, v st.Value, path ...string) {
	t.Helper()
	clock.Set(ts)
	a, err := doc.Attribute(path...)
	require.NoError(t, err)
	require.NoError(t, a.Set(v))
}

func snapshot(t *testing.T, doc *st.Document) st.Update {
	t.Helper()
	u, err := doc.Snapshot()
	require.NoError(t, err)
	return u
}

func rootOf(t *testing.T, doc *st.Document) string {
	t.Helper()
	g, err := Digests(doc)
	require.NoError(t, err)
	return g.Root().String()
}

type outcome struct {
	sent, received int
	err            error
	peer           *Peer
}

// runPair reconciles a and b over an in-process connection.
func runPair(t *testing.T, a, b *st.Document, optsA, optsB Options) (outcome, outcome) {
	t.Helper()
	ca, cb := connPair()
	log := zaptest.NewLogger(t).Sugar()

	pa := NewPeer(ca, a, optsA, log.Named("a"))
	pb := NewPeer(cb, b, optsB, log.Named("b"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg gosync.WaitGroup
	var ra, rb outcome
	wg.Add(2)
	go func() {
		defer wg.Done()
		ra.sent, ra.received, ra.err = pa.Reconcile(ctx)
		ra.peer = pa
	}()
	go func() {
		defer wg.Done()
		rb.sent, rb.received, rb.err = pb.Reconcile(ctx)
		rb.peer = pb
	}()
	wg.Wait()
	return ra, rb
}
