package st

import (
	"sync"

	"github.com/google/uuid"

	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/oid"
)

// Event is a change notification. OID identifies the node that changed.
type Event interface {
	OID() oid.OID
	event()
}

// AttributeChangedEvent is raised when an attribute's current value changes.
// Old and New may be absent values.
type AttributeChangedEvent struct {
	Attribute *Attribute
	Old       AttributeValue
	New       AttributeValue
}

// DocumentAddedEvent is raised when a child document is created.
type DocumentAddedEvent struct {
	Parent *Document
	Child  *Document
}

// DocumentRemovedEvent is raised when a child document is removed. Removing
// an attribute raises nothing.
type DocumentRemovedEvent struct {
	Parent *Document
	Child  *Document
}

func (e AttributeChangedEvent) OID() oid.OID { return e.Attribute.OID() }
func (e DocumentAddedEvent) OID() oid.OID    { return e.Child.OID() }
func (e DocumentRemovedEvent) OID() oid.OID  { return e.Child.OID() }

func (AttributeChangedEvent) event() {}
func (DocumentAddedEvent) event()    {}
func (DocumentRemovedEvent) event()  {}

// Listener receives events on a pool worker, never on the mutating
// goroutine. By the time OnEvent runs the tree may have changed again.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f(e).
func (f ListenerFunc) OnEvent(e Event) { f(e) }

// ListenerHandle identifies a registration for RemoveListener.
type ListenerHandle struct {
	id uuid.UUID
}

func (h ListenerHandle) String() string { return h.id.String() }

type registration struct {
	handle   ListenerHandle
	listener Listener
}

// bus is the listener set of one node. Events posted to a bus are delivered
// in posting order.
type bus struct {
	listeners []registration
}

// node is the part shared by attributes and documents: identity, the tree
// context, the non-owning parent link used for bubbling, and a lazily
// created bus.
type node struct {
	id     oid.OID
	ctx    *Context
	parent parentRef

	busMu sync.Mutex
	bus   *bus
}

// OID returns the node's identity.
func (n *node) OID() oid.OID {
	return n.id
}

// AddListener registers l on this node. l observes changes of this node and
// of every descendant.
func (n *node) AddListener(l Listener) ListenerHandle {
	h := ListenerHandle{id: uuid.New()}

	n.busMu.Lock()
	defer n.busMu.Unlock()
	if n.bus == nil {
		n.bus = &bus{}
	}
	n.bus.listeners = append(n.bus.listeners, registration{handle: h, listener: l})
	return h
}

// RemoveListener unregisters h. The bus is discarded with its last listener.
func (n *node) RemoveListener(h ListenerHandle) bool {
	n.busMu.Lock()
	defer n.busMu.Unlock()

	if n.bus == nil {
		return false
	}
	for i, r := range n.bus.listeners {
		if r.handle == h {
			// copy so tasks already submitted keep their own slice
			kept := make([]registration, 0, len(n.bus.listeners)-1)
			kept = append(kept, n.bus.listeners[:i]...)
			kept = append(kept, n.bus.listeners[i+1:]...)
			n.bus.listeners = kept
			if len(kept) == 0 {
				n.bus = nil
			}
			return true
		}
	}
	return false
}

// ListenerCount reports the listeners registered directly on this node.
func (n *node) ListenerCount() int {
	n.busMu.Lock()
	defer n.busMu.Unlock()
	if n.bus == nil {
		return 0
	}
	return len(n.bus.listeners)
}

// post delivers e to this node's listeners and then to every ancestor's.
func (n *node) post(e Event) {
	for cur := n; cur != nil; {
		cur.postLocal(e)
		parent := cur.parent.get()
		if parent == nil {
			return
		}
		cur = &parent.node
	}
}

func (n *node) postLocal(e Event) {
	n.busMu.Lock()
	b := n.bus
	var listeners []registration
	if b != nil {
		listeners = b.listeners
	}
	n.busMu.Unlock()

	for _, r := range listeners {
		l := r.listener
		n.ctx.submit(b, func() {
			defer func() {
				if rec := recover(); rec != nil {
					n.ctx.logger().Errorw("Listener panicked",
						logger.FieldOID, e.OID().String(),
						"listener", r.handle.String(),
						"panic", rec)
				}
			}()
			l.OnEvent(e)
		})
	}
}
