package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/st"
)

// Conn abstracts the message connection for testability.
// The real implementation wraps gorilla/websocket; tests use a channel pair.
type Conn interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	Close() error
}

// Options tune one side of a session.
type Options struct {
	// Name identifies this node to the peer.
	Name string
	// Codec encodes outgoing updates. Nil means JSON.
	Codec codec.Codec
	// Compress wraps outgoing updates in a zstd frame.
	Compress bool
}

// Peer manages one sync session with a remote tree.
// Both sides of the connection run the same code.
type Peer struct {
	conn    Conn
	doc     *st.Document
	opts    Options
	session string
	logger  *zap.SugaredLogger

	// RemoteName is the name the peer announced in its hello.
	RemoteName string

	// Stats tracked during reconciliation
	sent     int
	received int
	rejected int
}

// NewPeer creates a sync peer for a single reconciliation session.
func NewPeer(conn Conn, doc *st.Document, opts Options, log *zap.SugaredLogger) *Peer {
	if opts.Codec == nil {
		opts.Codec = codec.JSON{}
	}
	if log == nil {
		log = logger.ComponentLogger("sync")
	}
	session := uuid.NewString()
	return &Peer{
		conn:    conn,
		doc:     doc,
		opts:    opts,
		session: session,
		logger:  log.With(logger.FieldSession, session),
	}
}

// Session returns the id this side announced.
func (p *Peer) Session() string { return p.session }

// Rejected returns how many received entries failed to merge.
func (p *Peer) Rejected() int { return p.rejected }

// Reconcile runs the full sync protocol. Both peers call this concurrently
// on their respective ends of the connection. It returns the number of
// entries sent and accepted. Cancelling ctx closes the connection.
func (p *Peer) Reconcile(ctx context.Context) (sent, received int, err error) {
	stop := context.AfterFunc(ctx, func() { _ = p.conn.Close() })
	defer stop()

	sent, received, err = p.reconcile()
	if err != nil && ctx.Err() != nil {
		err = errors.Mark(err, ctx.Err())
	}
	return sent, received, err
}

func (p *Peer) reconcile() (int, int, error) {
	// Phase 1: exchange root digests
	local, err := Digests(p.doc)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to digest local tree")
	}
	root := local.Root().String()
	tree := p.doc.OID().Key()

	if err := p.send(Msg{
		Type:    MsgHello,
		Tree:    tree,
		Root:    root,
		Name:    p.opts.Name,
		Session: p.session,
	}); err != nil {
		return 0, 0, errors.Wrap(err, "failed to send hello")
	}

	hello, err := p.expect(MsgHello)
	if err != nil {
		return 0, 0, err
	}
	if hello.Tree != tree {
		return 0, 0, errors.Wrapf(errors.ErrProtocol, "peer syncs %s, local tree is %s", hello.Tree, tree)
	}
	p.RemoteName = hello.Name
	p.logger = p.logger.With(logger.FieldPeer, hello.Name)

	// Roots match: fully synced
	if hello.Root == root {
		p.logger.Debugw("Sync roots match, already in sync")
		return 0, 0, p.finish()
	}

	p.logger.Debugw("Sync roots differ, starting reconciliation",
		"local_root", root,
		"remote_root", hello.Root,
	)

	// Phase 2: exchange group digests
	if err := p.send(Msg{Type: MsgGroupDigests, Groups: local.Encode()}); err != nil {
		return 0, 0, errors.Wrap(err, "failed to send group digests")
	}
	groupsMsg, err := p.expect(MsgGroupDigests)
	if err != nil {
		return 0, 0, err
	}
	remote, err := DecodeGroups(groupsMsg.Groups)
	if err != nil {
		return 0, 0, errors.Mark(err, errors.ErrProtocol)
	}

	// Phase 3: compute the diff and exchange needs
	_, remoteOnly, divergent := local.Diff(remote)
	needed := append(remoteOnly, divergent...)
	slices.Sort(needed)

	if err := p.send(Msg{Type: MsgNeed, Need: needed}); err != nil {
		return 0, 0, errors.Wrap(err, "failed to send need")
	}
	needMsg, err := p.expect(MsgNeed)
	if err != nil {
		return 0, 0, err
	}

	// Phase 4: fulfil their request, then apply ours
	if err := p.sendRequested(needMsg.Need); err != nil {
		return 0, 0, errors.Wrap(err, "failed to send requested groups")
	}
	updateMsg, err := p.expect(MsgUpdate)
	if err != nil {
		return 0, 0, err
	}
	if err := p.apply(updateMsg); err != nil {
		return p.sent, p.received, err
	}

	if err := p.finish(); err != nil {
		return p.sent, p.received, err
	}

	p.logger.Infow("Sync reconciliation complete",
		"sent", p.sent,
		"received", p.received,
		"rejected", p.rejected,
	)
	return p.sent, p.received, nil
}

// sendRequested snapshots the groups the peer asked for and sends them in
// one update. Keys that are not direct children of the tree are ignored.
func (p *Peer) sendRequested(keys []string) error {
	var filters []oid.OID
	for _, k := range keys {
		o, err := oid.Parse(k)
		if err != nil || o.Len() != p.doc.OID().Len()+1 || !p.doc.OID().IsAncestorOf(o) {
			p.logger.Warnw("Ignoring request for unknown group", logger.FieldKey, k)
			continue
		}
		filters = append(filters, o.WithoutSelector())
	}

	u := st.NewUpdate()
	if len(filters) > 0 {
		var err error
		if u, err = p.doc.Snapshot(filters...); err != nil {
			return err
		}
	}

	data, err := codec.Encode(p.opts.Codec, u, p.opts.Compress)
	if err != nil {
		return err
	}
	p.sent = len(u.Changed)
	return p.send(Msg{Type: MsgUpdate, Codec: p.opts.Codec.Name(), Payload: data})
}

// apply decodes the peer's update, keeps what wins under last-writer-wins
// and merges it. Entries that fail to merge are logged and counted.
func (p *Peer) apply(msg Msg) error {
	c, err := codec.Lookup(msg.Codec)
	if err != nil {
		return errors.Mark(err, errors.ErrProtocol)
	}
	u, err := codec.Decode(c, msg.Payload)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "decode update"), errors.ErrProtocol)
	}

	accepted := LastWriterWins(p.doc, u)
	if accepted.IsEmpty() {
		return nil
	}

	err = p.doc.Merge(accepted)
	var merr *st.MergeError
	switch {
	case err == nil:
	case errors.As(err, &merr):
		for _, f := range merr.Failures {
			p.logger.Warnw("Failed to merge synced entry",
				logger.FieldKey, f.Key,
				logger.FieldError, f.Err,
			)
		}
		p.rejected = len(merr.Failures)
	default:
		return errors.Wrap(err, "merge update")
	}
	p.received = len(accepted.Changed) - p.rejected
	return nil
}

// LastWriterWins returns the entries of u that should be merged into doc.
// A current value is kept only when it is newer than the local one; equal
// timestamps are settled by comparing the encoded values, so both peers
// pick the same winner. History entries are always kept. Clearing entries
// and removals are dropped.
func LastWriterWins(doc *st.Document, u st.Update) st.Update {
	out := st.NewUpdate()
	for _, k := range u.Keys() {
		vs := u.Changed[k]
		o, err := oid.Parse(k)
		if err != nil {
			// Merge reports it
			out.Put(k, vs...)
			continue
		}
		if _, history := o.TimestampRange(); history {
			out.Put(k, vs...)
			continue
		}
		if len(vs) == 0 || !vs[0].Present() {
			continue
		}

		var attr *st.Attribute
		if rel := o.Relativize(doc.OID()); rel != nil {
			attr = doc.GetAttribute(rel...)
		}
		if attr == nil || wins(vs[0], attr.Current()) {
			out.Put(k, vs[0])
		}
	}
	return out
}

func wins(incoming, local st.AttributeValue) bool {
	switch {
	case incoming.Timestamp > local.Timestamp:
		return true
	case incoming.Timestamp < local.Timestamp:
		return false
	}
	a, _ := json.Marshal(st.EncodeValue(incoming))
	b, _ := json.Marshal(st.EncodeValue(local))
	return bytes.Compare(a, b) > 0
}

// finish exchanges done messages.
func (p *Peer) finish() error {
	if err := p.send(Msg{Type: MsgDone, Sent: p.sent, Received: p.received}); err != nil {
		return errors.Wrap(err, "failed to send done")
	}
	_, err := p.expect(MsgDone)
	return err
}

func (p *Peer) send(msg Msg) error {
	return p.conn.WriteJSON(msg)
}

// expect reads the next message and checks its type.
func (p *Peer) expect(t MsgType) (Msg, error) {
	var msg Msg
	if err := p.conn.ReadJSON(&msg); err != nil {
		return msg, errors.Wrapf(err, "failed to receive %s", t)
	}
	if msg.Type != t {
		return msg, errors.Wrapf(errors.ErrProtocol, "expected %s, got %s", t, msg.Type)
	}
	return msg, nil
}
