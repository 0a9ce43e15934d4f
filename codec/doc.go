// Package codec turns st.Update payloads into bytes and back.
//
// Every codec carries the same wire form (st.WireUpdate), so a snapshot
// written as TOML by an operator decodes into the same update a peer sends
// as CBOR. The registry is explicit: the built-in codecs are registered at
// init and callers pick one by name.
//
// Alongside the codecs live the zstd frame used for stored and transferred
// snapshots, and Hash, a keyed BLAKE3 digest over the deterministic CBOR form
// that peers compare to find subtrees that differ.
package codec
