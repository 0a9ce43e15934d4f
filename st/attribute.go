package st

import (
	"slices"
	"sync"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/logger"
	"github.com/teranos/statetree/oid"
)

// Source computes an attribute's value on demand. A nil result is an absent
// value.
type Source func() Value

// Attribute is a single typed value slot with optional history.
//
// The kind is pinned by the first value written, by Set or by Merge, and
// every later value must carry the same kind. Timestamps are unix
// milliseconds and strictly increase across local writes.
type Attribute struct {
	node

	mu        sync.Mutex
	kind      Kind
	current   AttributeValue
	history   []AttributeValue // oldest first
	retention RetentionPolicy
	source    Source
}

// NewAttribute creates a standalone attribute that belongs to no document.
func NewAttribute(id oid.OID, ctx *Context) *Attribute {
	if ctx == nil {
		ctx = &Context{}
	}
	return newAttribute(nil, id, ctx)
}

func newAttribute(parent *Document, id oid.OID, ctx *Context) *Attribute {
	a := &Attribute{
		node:      node{id: id.WithoutSelector(), ctx: ctx},
		retention: ctx.Retention,
	}
	a.parent.set(parent)
	return a
}

// Get returns the source's value when bound, otherwise the current value.
// It returns nil when there is no value.
func (a *Attribute) Get() Value {
	a.mu.Lock()
	src := a.source
	v := a.current.Value
	a.mu.Unlock()

	if src != nil {
		return src()
	}
	return cloneValue(v)
}

// Current returns the stored value with its timestamp, ignoring any source.
func (a *Attribute) Current() AttributeValue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AttributeValue{Timestamp: a.current.Timestamp, Value: cloneValue(a.current.Value)}
}

// IsPresent reports whether Get would return a value.
func (a *Attribute) IsPresent() bool {
	return a.Get() != nil
}

// Timestamp returns the timestamp of the stored value, or zero.
func (a *Attribute) Timestamp() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Timestamp
}

// Kind returns the pinned kind, or KindNone before the first write.
func (a *Attribute) Kind() Kind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind
}

// Set stores v as the current value. A nil v clears the value. With
// retention enabled the previous value moves to history first.
func (a *Attribute) Set(v Value) error {
	if v == nil {
		return a.Clear()
	}

	a.mu.Lock()
	if a.source != nil {
		a.mu.Unlock()
		return errors.Wrapf(ErrBound, "set %s", a.id)
	}
	if err := a.pin(v.Kind()); err != nil {
		a.mu.Unlock()
		return err
	}

	old := a.current
	next := AttributeValue{Timestamp: a.nextTimestamp(), Value: cloneValue(v)}
	if a.retention.Enabled() && old.Present() {
		a.history = append(a.history, old)
	}
	a.current = next
	a.history = a.retention.evict(a.history, next.Timestamp)
	a.mu.Unlock()

	a.post(AttributeChangedEvent{Attribute: a, Old: old, New: next})
	return nil
}

// Clear removes the current value. History is untouched.
func (a *Attribute) Clear() error {
	a.mu.Lock()
	if a.source != nil {
		a.mu.Unlock()
		return errors.Wrapf(ErrBound, "clear %s", a.id)
	}
	old := a.current
	a.current = AttributeValue{Timestamp: a.nextTimestamp()}
	next := a.current
	a.mu.Unlock()

	a.post(AttributeChangedEvent{Attribute: a, Old: old, New: next})
	return nil
}

// pin binds the kind on first use. Caller holds a.mu.
func (a *Attribute) pin(k Kind) error {
	if a.kind == KindNone {
		a.kind = k
		return nil
	}
	if a.kind != k {
		return errors.Wrapf(ErrTypeMismatch, "%s holds %s, got %s", a.id, a.kind, k)
	}
	return nil
}

// nextTimestamp returns the clock reading, bumped past the newest stored
// timestamp. Caller holds a.mu.
func (a *Attribute) nextTimestamp() int64 {
	now := a.ctx.now()
	last := a.current.Timestamp
	if n := len(a.history); n > 0 {
		last = max(last, a.history[n-1].Timestamp)
	}
	if now <= last {
		return last + 1
	}
	return now
}

// History returns the retained values, oldest first.
func (a *Attribute) History() []AttributeValue {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]AttributeValue, len(a.history))
	for i, v := range a.history {
		out[i] = AttributeValue{Timestamp: v.Timestamp, Value: cloneValue(v.Value)}
	}
	return out
}

// Retention returns the active policy.
func (a *Attribute) Retention() RetentionPolicy {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.retention
}

// SetRetention replaces the policy and evicts immediately.
func (a *Attribute) SetRetention(p RetentionPolicy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retention = p
	a.history = p.evict(a.history, a.current.Timestamp)
}

// BindSource makes the attribute computed. While bound, Set, Clear and
// Merge fail with ErrBound.
func (a *Attribute) BindSource(src Source) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.source = src
}

// UnbindSource detaches the source; the stored value becomes visible again.
func (a *Attribute) UnbindSource() {
	a.BindSource(nil)
}

// IsBound reports whether a source is attached.
func (a *Attribute) IsBound() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.source != nil
}

// Snapshot returns the current value under the attribute's OID and the
// history, newest first, under the OID with a timestamp selector spanning
// it. Filters are not supported on a single attribute.
func (a *Attribute) Snapshot(filters ...oid.OID) (Update, error) {
	if len(filters) > 0 {
		return Update{}, errors.Wrapf(ErrUnsupportedPartial, "%s", a.id)
	}
	u := NewUpdate()
	a.snapshotInto(&u, nil)
	return u, nil
}

// snapshotInto adds the attribute's entries to u. A non-nil window limits
// the history entries.
func (a *Attribute) snapshotInto(u *Update, window *oid.Range) {
	a.mu.Lock()
	src := a.source
	cur := a.current
	a.history = a.retention.evict(a.history, cur.Timestamp)
	var hist []AttributeValue
	for _, v := range a.history {
		if window == nil || window.Contains(v.Timestamp) {
			hist = append(hist, v)
		}
	}
	a.mu.Unlock()

	if src != nil {
		cur = AttributeValue{Timestamp: a.ctx.now(), Value: src()}
	}
	if cur.Present() {
		u.Put(a.id.String(), AttributeValue{Timestamp: cur.Timestamp, Value: cloneValue(cur.Value)})
	}

	if len(hist) == 0 {
		return
	}
	key, err := a.id.WithTimestampRange(oid.Span(hist[0].Timestamp, hist[len(hist)-1].Timestamp))
	if err != nil {
		a.ctx.logger().Errorw("Cannot key attribute history", logger.FieldOID, a.id.String(), logger.FieldError, err)
		return
	}
	values := make([]AttributeValue, len(hist))
	for i, v := range hist {
		values[len(hist)-1-i] = AttributeValue{Timestamp: v.Timestamp, Value: cloneValue(v.Value)}
	}
	u.Put(key.String(), values...)
}

// Merge applies entries addressed to this attribute. Every changed key must
// name this attribute; removals are not accepted.
func (a *Attribute) Merge(u Update) error {
	if len(u.Removed) > 0 {
		return errors.Wrap(ErrInvalidUpdate, "an attribute update cannot remove entries")
	}
	if len(u.Changed) == 0 {
		return errors.Wrapf(ErrInvalidUpdate, "no entry for %s", a.id)
	}

	var errs mergeErrors
	for _, key := range u.Keys() {
		o, err := oid.Parse(key)
		if err != nil {
			errs.add(key, false, err)
			continue
		}
		if !o.Equal(a.id) {
			errs.add(key, false, errors.Wrapf(ErrInvalidUpdate, "entry does not address %s", a.id))
			continue
		}
		errs.add(key, false, a.mergeEntry(o, u.Changed[key]))
	}
	return errs.err()
}

// mergeEntry applies one changed entry. A key without selector replaces the
// current value; a key with a timestamp selector adds history.
func (a *Attribute) mergeEntry(key oid.OID, values []AttributeValue) error {
	if _, ok := key.IndexRange(); ok {
		return errors.Wrap(ErrInvalidUpdate, "index selector on an attribute entry")
	}
	_, isHistory := key.TimestampRange()

	a.mu.Lock()
	if a.source != nil {
		a.mu.Unlock()
		return errors.Wrapf(ErrBound, "merge %s", a.id)
	}
	for _, v := range values {
		if v.Present() && a.kind != KindNone && v.Value.Kind() != a.kind {
			a.mu.Unlock()
			return errors.Wrapf(ErrTypeMismatch, "%s holds %s, got %s", a.id, a.kind, v.Value.Kind())
		}
	}
	for _, v := range values {
		if v.Present() {
			a.kind = v.Value.Kind()
			break
		}
	}

	if isHistory {
		a.mergeHistory(values)
		a.mu.Unlock()
		return nil
	}

	old := a.current
	next := AttributeValue{Timestamp: a.ctx.now()}
	if len(values) > 0 {
		next = AttributeValue{Timestamp: values[0].Timestamp, Value: cloneValue(values[0].Value)}
	}
	a.current = next
	a.history = a.retention.evict(a.history, next.Timestamp)
	a.mu.Unlock()

	if !old.equal(next) {
		a.post(AttributeChangedEvent{Attribute: a, Old: old, New: next})
	}
	return nil
}

// mergeHistory inserts values in timestamp order, skipping timestamps that
// are already present. An attribute without retention switches to
// Unlimited so the received history is kept. Caller holds a.mu.
func (a *Attribute) mergeHistory(values []AttributeValue) {
	if !a.retention.Enabled() {
		a.ctx.logger().Debugw("Enabling unlimited retention for merged history",
			logger.FieldOID, a.id.String(), logger.FieldCount, len(values))
		a.retention = Unlimited()
	}
	for _, v := range values {
		if !v.Present() {
			continue
		}
		i, found := slices.BinarySearchFunc(a.history, v.Timestamp, func(e AttributeValue, ts int64) int {
			switch {
			case e.Timestamp < ts:
				return -1
			case e.Timestamp > ts:
				return 1
			}
			return 0
		})
		if found {
			continue
		}
		a.history = slices.Insert(a.history, i, AttributeValue{Timestamp: v.Timestamp, Value: cloneValue(v.Value)})
	}
	a.history = a.retention.evict(a.history, a.current.Timestamp)
}

// Get returns the attribute's value as the variant T.
func Get[T Value](a *Attribute) (T, error) {
	var zero T
	v := a.Get()
	if v == nil {
		return zero, errors.Wrapf(ErrNoValue, "%s", a.OID())
	}
	t, ok := v.(T)
	if !ok {
		return zero, errors.Wrapf(ErrWrongType, "%s holds %s", a.OID(), v.Kind())
	}
	return t, nil
}
