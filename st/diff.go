package st

import "slices"

// Diff returns the update that turns a tree holding from into one holding
// to: entries of to that are new or differ, and removals for current-value
// keys of from that to no longer has. History keys never produce removals
// because history merges are additive.
func Diff(from, to Update) Update {
	patch := NewUpdate()

	for k, vs := range to.Changed {
		if old, ok := from.Changed[k]; !ok || !valuesEqual(old, vs) {
			patch.Changed[k] = vs
		}
	}
	for k := range from.Changed {
		if _, ok := to.Changed[k]; !ok && !isHistoryKey(k) {
			patch.Removed = append(patch.Removed, k)
		}
	}
	for _, k := range to.Removed {
		if !slices.Contains(from.Removed, k) && !slices.Contains(patch.Removed, k) {
			patch.Removed = append(patch.Removed, k)
		}
	}
	slices.Sort(patch.Removed)
	return patch
}
