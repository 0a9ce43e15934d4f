package testing

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/pulse"
	"github.com/teranos/statetree/st"
)

// TestNamespace is the namespace of trees made by NewTree.
const TestNamespace = "org.s7s.test"

// NewTree returns an empty tree with a running event pool. The pool is
// stopped via t.Cleanup().
func NewTree(t *testing.T) (*st.Document, *st.Context) {
	t.Helper()

	log := zaptest.NewLogger(t).Sugar()
	pool := pulse.NewPool(pulse.PoolConfig{Workers: 2}, log)
	pool.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	stctx := &st.Context{Pool: pool, Logger: log}
	root, err := st.NewRoot(oid.Must(oid.Root(TestNamespace)), stctx)
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	return root, stctx
}

// Populate sets each slash-separated path under doc to its value.
func Populate(t *testing.T, doc *st.Document, values map[string]st.Value) {
	t.Helper()
	for path, v := range values {
		a, err := doc.Attribute(strings.Split(path, "/")...)
		if err != nil {
			t.Fatalf("Failed to create attribute %s: %v", path, err)
		}
		if err := a.Set(v); err != nil {
			t.Fatalf("Failed to set %s: %v", path, err)
		}
	}
}

// Drain waits until every event submitted so far has been delivered.
func Drain(t *testing.T, ctx *st.Context) {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctx.Pool.Drain(c); err != nil {
		t.Fatalf("Events not delivered: %v", err)
	}
}

// Key returns the OID text of path in the test namespace.
func Key(path string) string {
	return TestNamespace + ":/" + path
}
