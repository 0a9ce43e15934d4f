package st

import (
	"maps"
	"slices"
	"strings"

	"github.com/teranos/statetree/oid"
)

// AttributeValue is one timestamped value. A nil Value marks an absent
// (cleared) value.
type AttributeValue struct {
	Timestamp int64
	Value     Value
}

// Present reports whether the entry carries a value.
func (v AttributeValue) Present() bool {
	return v.Value != nil
}

func (v AttributeValue) equal(o AttributeValue) bool {
	return v.Timestamp == o.Timestamp && Equal(v.Value, o.Value)
}

// Update is the transient payload produced by Snapshot and consumed by
// Merge. Changed maps an OID string to its values: a key without selector
// carries the current value, a key with a timestamp selector carries
// history newest first. Removed lists OID strings to delete.
type Update struct {
	Changed map[string][]AttributeValue
	Removed []string
}

// NewUpdate returns an empty update.
func NewUpdate() Update {
	return Update{Changed: make(map[string][]AttributeValue)}
}

// IsEmpty reports whether the update carries nothing.
func (u Update) IsEmpty() bool {
	return len(u.Changed) == 0 && len(u.Removed) == 0
}

// Keys returns the changed keys in sorted order.
func (u Update) Keys() []string {
	return slices.Sorted(maps.Keys(u.Changed))
}

// Put records values under key, replacing anything stored there.
func (u *Update) Put(key string, values ...AttributeValue) {
	if u.Changed == nil {
		u.Changed = make(map[string][]AttributeValue)
	}
	u.Changed[key] = values
}

// Remove records a removal of key.
func (u *Update) Remove(key string) {
	if !slices.Contains(u.Removed, key) {
		u.Removed = append(u.Removed, key)
	}
}

// Add copies every entry of other into u.
func (u *Update) Add(other Update) {
	for k, v := range other.Changed {
		u.Put(k, v...)
	}
	for _, k := range other.Removed {
		u.Remove(k)
	}
}

// Clone returns a deep copy.
func (u Update) Clone() Update {
	c := NewUpdate()
	for k, vs := range u.Changed {
		cp := make([]AttributeValue, len(vs))
		for i, v := range vs {
			cp[i] = AttributeValue{Timestamp: v.Timestamp, Value: cloneValue(v.Value)}
		}
		c.Changed[k] = cp
	}
	c.Removed = slices.Clone(u.Removed)
	return c
}

// Within returns the entries addressed at or below root.
func (u Update) Within(root oid.OID) Update {
	scoped := NewUpdate()
	for k, vs := range u.Changed {
		if o, err := oid.Parse(k); err == nil && root.IsAncestorOf(o) {
			scoped.Changed[k] = vs
		}
	}
	for _, k := range u.Removed {
		if o, err := oid.Parse(k); err == nil && root.IsAncestorOf(o) {
			scoped.Removed = append(scoped.Removed, k)
		}
	}
	return scoped
}

// Equal compares two updates structurally. Removal order is ignored.
func (u Update) Equal(other Update) bool {
	if len(u.Changed) != len(other.Changed) {
		return false
	}
	for k, vs := range u.Changed {
		ovs, ok := other.Changed[k]
		if !ok || !valuesEqual(vs, ovs) {
			return false
		}
	}
	a := slices.Sorted(slices.Values(u.Removed))
	b := slices.Sorted(slices.Values(other.Removed))
	return slices.Equal(a, b)
}

func valuesEqual(a, b []AttributeValue) bool {
	return slices.EqualFunc(a, b, AttributeValue.equal)
}

// isHistoryKey is a cheap check for a trailing timestamp selector.
func isHistoryKey(key string) bool {
	return strings.HasSuffix(key, string(oid.SyntaxV1.TimeClose))
}
