// Package st implements the state tree: a hierarchy of documents and typed,
// versioned attributes addressed by OIDs, with snapshot/merge for partial
// synchronization and change events that bubble to every ancestor.
package st

import (
	"sync"
	"weak"

	"github.com/teranos/statetree/oid"
)

// Object is the contract shared by attributes and documents.
type Object interface {
	OID() oid.OID
	Snapshot(filters ...oid.OID) (Update, error)
	Merge(u Update) error
	AddListener(l Listener) ListenerHandle
	RemoveListener(h ListenerHandle) bool
}

var (
	_ Object = (*Attribute)(nil)
	_ Object = (*Document)(nil)
)

// parentRef is a non-owning link to the parent document. The parent owns
// the child through its maps; the child only uses the link to bubble events.
type parentRef struct {
	mu  sync.Mutex
	ptr weak.Pointer[Document]
}

func (r *parentRef) set(d *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == nil {
		r.ptr = weak.Pointer[Document]{}
		return
	}
	r.ptr = weak.Make(d)
}

func (r *parentRef) get() *Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ptr.Value()
}
