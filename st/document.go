package st

import (
	"maps"
	"slices"
	"sync"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/oid"
)

// Document is a composite node holding attributes and child documents by
// path segment. Children are created on first access and owned exclusively
// by their document.
type Document struct {
	node

	attrMu     sync.Mutex
	attributes map[string]*Attribute

	docMu     sync.Mutex
	documents map[string]*Document
}

// NewRoot creates the root document of a tree. id must be concrete; its
// selector, if any, is dropped. A nil ctx uses defaults and drops events.
func NewRoot(id oid.OID, ctx *Context) (*Document, error) {
	if !id.IsConcrete() {
		return nil, errors.Wrapf(oid.ErrInvalidPathComponent, "root %s is generic", id)
	}
	if ctx == nil {
		ctx = &Context{}
	}
	return newDocument(nil, id.WithoutSelector(), ctx), nil
}

func newDocument(parent *Document, id oid.OID, ctx *Context) *Document {
	d := &Document{
		node:       node{id: id, ctx: ctx},
		attributes: make(map[string]*Attribute),
		documents:  make(map[string]*Document),
	}
	d.parent.set(parent)
	return d
}

func checkSegment(seg string) error {
	if seg == oid.Wildcard {
		return errors.Wrap(oid.ErrInvalidPathComponent, "wildcard cannot name a child")
	}
	return oid.ValidateComponent(seg)
}

// Document returns the descendant document at path, creating every missing
// level. Each creation raises a DocumentAddedEvent on the new child's parent.
func (d *Document) Document(path ...string) (*Document, error) {
	cur := d
	for _, seg := range path {
		if err := checkSegment(seg); err != nil {
			return nil, err
		}
		cur = cur.childDocument(seg)
	}
	return cur, nil
}

// Attribute returns the attribute at path, creating it and any missing
// documents on the way. Creating an attribute raises no event.
func (d *Document) Attribute(path ...string) (*Attribute, error) {
	if len(path) == 0 {
		return nil, errors.Wrap(oid.ErrInvalidPathComponent, "empty attribute path")
	}
	last := path[len(path)-1]
	if err := checkSegment(last); err != nil {
		return nil, err
	}
	parent, err := d.Document(path[:len(path)-1]...)
	if err != nil {
		return nil, err
	}
	return parent.childAttribute(last), nil
}

// DocumentAt is Document for an absolute OID below d.
func (d *Document) DocumentAt(o oid.OID) (*Document, error) {
	if o.Equal(d.id) {
		return d, nil
	}
	rel, err := d.relative(o)
	if err != nil {
		return nil, err
	}
	return d.Document(rel...)
}

// AttributeAt is Attribute for an absolute OID below d.
func (d *Document) AttributeAt(o oid.OID) (*Attribute, error) {
	rel, err := d.relative(o)
	if err != nil {
		return nil, err
	}
	return d.Attribute(rel...)
}

// relative returns the path of o below d.
func (d *Document) relative(o oid.OID) ([]string, error) {
	if !o.IsConcrete() {
		return nil, errors.Wrapf(oid.ErrInvalidPathComponent, "%s is generic", o)
	}
	if !d.id.IsAncestorOf(o) || o.Len() <= d.id.Len() {
		return nil, errors.Wrapf(ErrNotDescendant, "%s is not below %s", o, d.id)
	}
	return o.Relativize(d.id), nil
}

func (d *Document) childDocument(seg string) *Document {
	d.docMu.Lock()
	child, ok := d.documents[seg]
	if !ok {
		// seg was validated by the caller
		id, _ := d.id.Child(seg)
		child = newDocument(d, id, d.ctx)
		d.documents[seg] = child
	}
	d.docMu.Unlock()

	if !ok {
		d.post(DocumentAddedEvent{Parent: d, Child: child})
	}
	return child
}

func (d *Document) childAttribute(seg string) *Attribute {
	d.attrMu.Lock()
	defer d.attrMu.Unlock()

	a, ok := d.attributes[seg]
	if !ok {
		id, _ := d.id.Child(seg)
		a = newAttribute(d, id, d.ctx)
		d.attributes[seg] = a
	}
	return a
}

// GetDocument returns the descendant document at path, or nil.
func (d *Document) GetDocument(path ...string) *Document {
	cur := d
	for _, seg := range path {
		cur.docMu.Lock()
		next := cur.documents[seg]
		cur.docMu.Unlock()
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}

// GetAttribute returns the attribute at path, or nil.
func (d *Document) GetAttribute(path ...string) *Attribute {
	if len(path) == 0 {
		return nil
	}
	parent := d.GetDocument(path[:len(path)-1]...)
	if parent == nil {
		return nil
	}
	parent.attrMu.Lock()
	defer parent.attrMu.Unlock()
	return parent.attributes[path[len(path)-1]]
}

// Remove deletes the attribute and the document named id. It reports
// whether anything was removed. Only document removal raises an event.
func (d *Document) Remove(id string) bool {
	d.attrMu.Lock()
	attr, hadAttr := d.attributes[id]
	if hadAttr {
		delete(d.attributes, id)
		attr.parent.set(nil)
	}
	d.attrMu.Unlock()

	d.docMu.Lock()
	child, hadDoc := d.documents[id]
	if hadDoc {
		delete(d.documents, id)
		child.parent.set(nil)
	}
	d.docMu.Unlock()

	if hadDoc {
		d.post(DocumentRemovedEvent{Parent: d, Child: child})
	}
	return hadAttr || hadDoc
}

func (d *Document) removePath(rel []string) {
	if len(rel) == 1 {
		d.Remove(rel[0])
		return
	}
	if child := d.GetDocument(rel[0]); child != nil {
		child.removePath(rel[1:])
	}
}

// AttributeCount returns the number of direct child attributes.
func (d *Document) AttributeCount() int {
	d.attrMu.Lock()
	defer d.attrMu.Unlock()
	return len(d.attributes)
}

// DocumentCount returns the number of direct child documents.
func (d *Document) DocumentCount() int {
	d.docMu.Lock()
	defer d.docMu.Unlock()
	return len(d.documents)
}

// Attributes returns the direct child attributes ordered by id.
func (d *Document) Attributes() []*Attribute {
	d.attrMu.Lock()
	defer d.attrMu.Unlock()
	out := make([]*Attribute, 0, len(d.attributes))
	for _, k := range slices.Sorted(maps.Keys(d.attributes)) {
		out = append(out, d.attributes[k])
	}
	return out
}

// Documents returns the direct child documents ordered by id.
func (d *Document) Documents() []*Document {
	d.docMu.Lock()
	defer d.docMu.Unlock()
	out := make([]*Document, 0, len(d.documents))
	for _, k := range slices.Sorted(maps.Keys(d.documents)) {
		out = append(out, d.documents[k])
	}
	return out
}

// ChildIDs returns the ids of every direct child, attributes and documents
// alike, sorted and without duplicates.
func (d *Document) ChildIDs() []string {
	d.attrMu.Lock()
	ids := slices.Collect(maps.Keys(d.attributes))
	d.attrMu.Unlock()

	d.docMu.Lock()
	for k := range d.documents {
		ids = append(ids, k)
	}
	d.docMu.Unlock()

	slices.Sort(ids)
	return slices.Compact(ids)
}

// Walk visits every attribute below d depth first in id order until fn
// returns false.
func (d *Document) Walk(fn func(*Attribute) bool) bool {
	for _, a := range d.Attributes() {
		if !fn(a) {
			return false
		}
	}
	for _, c := range d.Documents() {
		if !c.Walk(fn) {
			return false
		}
	}
	return true
}

// Snapshot serializes the subtree. With no filters every attribute below d
// is included. Each filter must address d or a descendant; a "*" component
// fans out to every child at that level and an index selector on a trailing
// "*" picks children by position in id order. A timestamp selector on a
// filter naming an attribute limits its history to that range.
func (d *Document) Snapshot(filters ...oid.OID) (Update, error) {
	u := NewUpdate()
	if len(filters) == 0 {
		d.snapshotAll(&u)
		return u, nil
	}
	for _, f := range filters {
		if !d.id.IsAncestorOf(f) {
			return Update{}, errors.Wrapf(ErrNotDescendant, "filter %s is not below %s", f, d.id)
		}
	}
	d.snapshotFiltered(&u, filters)
	return u, nil
}

func (d *Document) snapshotAll(u *Update) {
	for _, a := range d.Attributes() {
		a.snapshotInto(u, nil)
	}
	for _, c := range d.Documents() {
		c.snapshotAll(u)
	}
}

// snapshotFiltered groups the filters by their component at d's depth and
// recurses into each named child once per group.
func (d *Document) snapshotFiltered(u *Update, filters []oid.OID) {
	depth := d.id.Len()

	var order []string
	groups := make(map[string][]oid.OID)
	for _, f := range filters {
		if f.Len() == depth {
			d.snapshotAll(u)
			return
		}
		seg := f.Component(depth)
		if _, ok := groups[seg]; !ok {
			order = append(order, seg)
		}
		groups[seg] = append(groups[seg], f)
	}

	for _, seg := range order {
		if seg != oid.Wildcard {
			d.snapshotChild(u, seg, groups[seg])
			continue
		}

		ids := d.ChildIDs()
		for _, f := range groups[seg] {
			picked := ids
			r, indexed := f.IndexRange()
			if indexed && f.Len() == depth+1 {
				picked = pick(ids, r)
				f = f.WithoutSelector()
			}
			for _, id := range picked {
				concrete, err := f.WithComponent(depth, id)
				if err != nil {
					continue
				}
				d.snapshotChild(u, id, []oid.OID{concrete})
			}
		}
	}
}

func pick(ids []string, r oid.Range) []string {
	var out []string
	for i, id := range ids {
		if r.Contains(int64(i)) {
			out = append(out, id)
		}
	}
	return out
}

func (d *Document) snapshotChild(u *Update, id string, filters []oid.OID) {
	depth := d.id.Len()

	d.attrMu.Lock()
	attr := d.attributes[id]
	d.attrMu.Unlock()
	if attr != nil {
		for _, f := range filters {
			if f.Len() != depth+1 {
				continue
			}
			var window *oid.Range
			if r, ok := f.TimestampRange(); ok {
				window = &r
			}
			attr.snapshotInto(u, window)
		}
	}

	if child := d.GetDocument(id); child != nil {
		child.snapshotFiltered(u, filters)
	}
}

// Merge applies an update to the subtree: removals first, then changed
// entries, each through the attribute it addresses. Entries that fail are
// reported in a *MergeError; the others are still applied. There is no
// atomicity across entries.
func (d *Document) Merge(u Update) error {
	var errs mergeErrors

	for _, key := range u.Removed {
		o, err := oid.Parse(key)
		if err != nil {
			errs.add(key, true, err)
			continue
		}
		rel, err := d.relative(o)
		if err != nil {
			errs.add(key, true, err)
			continue
		}
		d.removePath(rel)
	}

	for _, key := range u.Keys() {
		o, err := oid.Parse(key)
		if err != nil {
			errs.add(key, false, err)
			continue
		}
		attr, err := d.AttributeAt(o)
		if err != nil {
			errs.add(key, false, err)
			continue
		}
		errs.add(key, false, attr.mergeEntry(o, u.Changed[key]))
	}

	return errs.err()
}

// Replace makes the subtree match a full snapshot by merging the difference
// between the current state and target.
func (d *Document) Replace(target Update) error {
	current, err := d.Snapshot()
	if err != nil {
		return err
	}
	return d.Merge(Diff(current, target.Within(d.id)))
}
