package sync

import (
	"sort"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// Groups maps each direct child of a document (keyed by its OID string) to
// the digest of the child's snapshot. Groups are the unit at which peers
// compare and transfer state.
type Groups map[string]codec.Digest

// Digests snapshots every direct child of doc and digests it.
func Digests(doc *st.Document) (Groups, error) {
	groups := make(Groups)
	for _, id := range doc.ChildIDs() {
		child, err := doc.OID().Child(id)
		if err != nil {
			return nil, err
		}
		u, err := doc.Snapshot(child)
		if err != nil {
			return nil, errors.Wrapf(err, "snapshot %s", child)
		}
		if u.IsEmpty() {
			// an attribute without value or history carries no state
			continue
		}
		d, err := codec.Hash(u)
		if err != nil {
			return nil, err
		}
		groups[child.Key()] = d
	}
	return groups, nil
}

// Keys returns the group keys in sorted order.
func (g Groups) Keys() []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Root digests the sorted (key, digest) pairs. Two trees with the same
// groups have the same root.
func (g Groups) Root() codec.Digest {
	var buf []byte
	for _, k := range g.Keys() {
		d := g[k]
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = append(buf, d[:]...)
	}
	return codec.Sum(buf)
}

// Encode returns the base58 form carried in MsgGroupDigests.
func (g Groups) Encode() map[string]string {
	out := make(map[string]string, len(g))
	for k, d := range g {
		out[k] = d.String()
	}
	return out
}

// DecodeGroups parses the base58 form.
func DecodeGroups(in map[string]string) (Groups, error) {
	out := make(Groups, len(in))
	for k, s := range in {
		d, err := codec.ParseDigest(s)
		if err != nil {
			return nil, errors.Wrapf(err, "group %s", k)
		}
		out[k] = d
	}
	return out, nil
}

// Diff compares g against remote. Each result is sorted.
//   - localOnly: groups only g has
//   - remoteOnly: groups only remote has
//   - divergent: groups both have with different digests
func (g Groups) Diff(remote Groups) (localOnly, remoteOnly, divergent []string) {
	for k, d := range g {
		rd, ok := remote[k]
		switch {
		case !ok:
			localOnly = append(localOnly, k)
		case rd != d:
			divergent = append(divergent, k)
		}
	}
	for k := range remote {
		if _, ok := g[k]; !ok {
			remoteOnly = append(remoteOnly, k)
		}
	}
	sort.Strings(localOnly)
	sort.Strings(remoteOnly)
	sort.Strings(divergent)
	return localOnly, remoteOnly, divergent
}
