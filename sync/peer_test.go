package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

func TestReconcileAlreadyInSync(t *testing.T) {
	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.String("dev1"), "profile", "hostname")
	require.NoError(t, b.Merge(snapshot(t, a)))

	ra, rb := runPair(t, a, b, Options{Name: "a"}, Options{Name: "b"})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Zero(t, ra.sent+ra.received+rb.sent+rb.received)
	assert.Equal(t, "b", ra.peer.RemoteName)
	assert.Equal(t, "a", rb.peer.RemoteName)
}

func TestReconcileEmptyTrees(t *testing.T) {
	ra, rb := runPair(t, newTree(t, nil), newTree(t, nil), Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Zero(t, ra.sent+rb.sent)
}

func TestReconcileOneSideHasMore(t *testing.T) {
	ca := &testClock{}
	a, b := newTree(t, ca), newTree(t, nil)
	set(t, a, ca, 100, st.String("dev1"), "profile", "hostname")
	set(t, a, ca, 101, st.OsLinux, "profile", "os")

	ra, rb := runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	assert.Equal(t, 2, ra.sent)
	assert.Zero(t, ra.received)
	assert.Zero(t, rb.sent)
	assert.Equal(t, 2, rb.received)

	host := b.GetAttribute("profile", "hostname")
	require.NotNil(t, host)
	assert.Equal(t, st.String("dev1"), host.Get())
	assert.Equal(t, int64(100), host.Timestamp(), "timestamps travel with the value")
	assert.Equal(t, rootOf(t, a), rootOf(t, b))
}

func TestReconcileBothUnique(t *testing.T) {
	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.Int(1), "left", "v")
	set(t, b, cb, 200, st.Int(2), "right", "v")

	ra, rb := runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	assert.Equal(t, st.Int(2), a.GetAttribute("right", "v").Get())
	assert.Equal(t, st.Int(1), b.GetAttribute("left", "v").Get())
	assert.Equal(t, rootOf(t, a), rootOf(t, b))

	// a second session has nothing left to do
	ra, rb = runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)
	assert.Zero(t, ra.sent+rb.sent)
}

func TestReconcileNewerWriteWins(t *testing.T) {
	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.String("old"), "profile", "hostname")
	set(t, a, ca, 100, st.Int(7), "profile", "port")
	set(t, b, cb, 200, st.String("new"), "profile", "hostname")

	ra, rb := runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	for _, doc := range []*st.Document{a, b} {
		assert.Equal(t, st.String("new"), doc.GetAttribute("profile", "hostname").Get())
		assert.Equal(t, st.Int(7), doc.GetAttribute("profile", "port").Get())
	}
	assert.Equal(t, rootOf(t, a), rootOf(t, b))
}

func TestReconcileTieBreak(t *testing.T) {
	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.String("alpha"), "profile", "hostname")
	set(t, b, cb, 100, st.String("beta"), "profile", "hostname")

	ra, rb := runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	assert.Equal(t, st.String("beta"), a.GetAttribute("profile", "hostname").Get())
	assert.Equal(t, st.String("beta"), b.GetAttribute("profile", "hostname").Get())
	assert.Equal(t, rootOf(t, a), rootOf(t, b))
}

func TestReconcileCodecOptions(t *testing.T) {
	cbor, err := codec.Lookup("cbor")
	require.NoError(t, err)
	proto, err := codec.Lookup("proto")
	require.NoError(t, err)

	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.Bytes{1, 2, 3}, "blob")
	set(t, b, cb, 100, st.Long(1<<50), "counter")

	ra, rb := runPair(t, a, b,
		Options{Codec: cbor, Compress: true},
		Options{Codec: proto},
	)
	require.NoError(t, ra.err)
	require.NoError(t, rb.err)

	assert.Equal(t, st.Bytes{1, 2, 3}, b.GetAttribute("blob").Get())
	assert.Equal(t, st.Long(1<<50), a.GetAttribute("counter").Get())
}

func TestReconcileRejectedEntries(t *testing.T) {
	ca, cb := &testClock{}, &testClock{}
	a, b := newTree(t, ca), newTree(t, cb)
	set(t, a, ca, 100, st.Int(1), "profile", "port")
	set(t, b, cb, 200, st.String("8080"), "profile", "port")

	ra, rb := runPair(t, a, b, Options{}, Options{})
	require.NoError(t, ra.err, "merge failures do not fail the session")
	require.NoError(t, rb.err)

	assert.Zero(t, ra.received)
	assert.Equal(t, 1, ra.peer.Rejected())
	assert.Equal(t, st.Int(1), a.GetAttribute("profile", "port").Get())
}

func TestReconcileTreeMismatch(t *testing.T) {
	a := newTree(t, nil)
	conn, remote := connPair()
	require.NoError(t, remote.WriteJSON(Msg{Type: MsgHello, Tree: "org.s7s.other:/", Root: "x"}))

	p := NewPeer(conn, a, Options{}, zaptest.NewLogger(t).Sugar())
	_, _, err := p.Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProtocol), "got %v", err)
}

func TestReconcileUnexpectedMessage(t *testing.T) {
	a := newTree(t, nil)
	conn, remote := connPair()
	require.NoError(t, remote.WriteJSON(Msg{Type: MsgDone}))

	p := NewPeer(conn, a, Options{}, zaptest.NewLogger(t).Sugar())
	_, _, err := p.Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProtocol), "got %v", err)
}

func TestReconcileUnknownCodec(t *testing.T) {
	ca := &testClock{}
	a := newTree(t, ca)
	set(t, a, ca, 100, st.Int(1), "v")

	conn, remote := connPair()
	for _, m := range []Msg{
		{Type: MsgHello, Tree: testTree, Root: "different"},
		{Type: MsgGroupDigests, Groups: map[string]string{}},
		{Type: MsgNeed},
		{Type: MsgUpdate, Codec: "msgpack", Payload: []byte("x")},
	} {
		require.NoError(t, remote.WriteJSON(m))
	}

	p := NewPeer(conn, a, Options{}, zaptest.NewLogger(t).Sugar())
	_, _, err := p.Reconcile(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProtocol), "got %v", err)
}

func TestReconcileCancelled(t *testing.T) {
	a := newTree(t, nil)
	conn, _ := connPair()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewPeer(conn, a, Options{}, zaptest.NewLogger(t).Sugar())
	_, _, err := p.Reconcile(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestLastWriterWins(t *testing.T) {
	ca := &testClock{}
	doc := newTree(t, ca)
	set(t, doc, ca, 100, st.Int(5), "n")

	u := st.NewUpdate()
	u.Put(testTree+"n", st.AttributeValue{Timestamp: 50, Value: st.Int(1)})
	u.Put(testTree+"n(10..20)", st.AttributeValue{Timestamp: 20, Value: st.Int(0)})
	u.Put(testTree+"fresh", st.AttributeValue{Timestamp: 1, Value: st.Bool(true)})
	u.Put(testTree+"cleared", st.AttributeValue{Timestamp: 500})
	u.Remove(testTree + "n")

	got := LastWriterWins(doc, u)
	assert.Equal(t, []string{testTree + "fresh", testTree + "n(10..20)"}, got.Keys())
	assert.Empty(t, got.Removed)

	newer := st.NewUpdate()
	newer.Put(testTree+"n", st.AttributeValue{Timestamp: 101, Value: st.Int(1)})
	assert.Equal(t, []string{testTree + "n"}, LastWriterWins(doc, newer).Keys())
}

func TestPeerSessionIDs(t *testing.T) {
	a := newTree(t, nil)
	c1, _ := connPair()
	c2, _ := connPair()
	p1 := NewPeer(c1, a, Options{}, nil)
	p2 := NewPeer(c2, a, Options{}, nil)
	assert.NotEmpty(t, p1.Session())
	assert.NotEqual(t, p1.Session(), p2.Session())
}
