// Package sync reconciles two state trees over a message connection.
//
// The protocol is symmetric: both ends run the same state machine, neither
// is server or client. Each side digests its tree per top-level child
// ("group"), the peers compare digests, and each sends the other snapshots
// of the groups it lacks or disagrees on.
//
// Reconciliation is additive. Current values follow last-writer-wins by
// timestamp, history entries are merged, and removals never travel.
package sync

// Protocol flow:
//
//	1. Both send MsgHello (tree OID, root digest, session id)
//	2. If roots match → MsgDone, nothing transferred
//	3. If roots differ → both send MsgGroupDigests (child key → digest)
//	4. Each side computes Diff: local-only, remote-only, divergent
//	5. Each side sends MsgNeed (group keys it wants snapshots for)
//	6. Each side sends MsgUpdate with snapshots of the requested groups
//	7. Both send MsgDone

// MsgType identifies the sync protocol message kind.
type MsgType string

const (
	// MsgHello is the initial handshake: "here's my root digest."
	MsgHello MsgType = "hello"

	// MsgGroupDigests carries every group key with its digest.
	MsgGroupDigests MsgType = "group_digests"

	// MsgNeed requests snapshots for specific group keys.
	MsgNeed MsgType = "need"

	// MsgUpdate carries an encoded st.Update with the requested groups.
	MsgUpdate MsgType = "update"

	// MsgDone signals reconciliation is complete.
	MsgDone MsgType = "done"
)

// Msg is the envelope for all sync protocol messages.
type Msg struct {
	Type MsgType `json:"type"`

	// Hello
	Tree    string `json:"tree,omitempty"` // OID of the synced document
	Root    string `json:"root,omitempty"` // base58 root digest
	Name    string `json:"name,omitempty"` // self-identified node name
	Session string `json:"session,omitempty"`

	// GroupDigests: group key (child OID) → base58 digest
	Groups map[string]string `json:"groups,omitempty"`

	// Need: group keys the sender wants
	Need []string `json:"need,omitempty"`

	// Update: codec name and encoded payload, zstd framed when compressed
	Codec   string `json:"codec,omitempty"`
	Payload []byte `json:"payload,omitempty"`

	// Stats (on Done): how many entries were exchanged
	Sent     int `json:"sent,omitempty"`
	Received int `json:"received,omitempty"`
}
