package exelet

import (
	"context"
	"encoding/json"

	"github.com/teranos/statetree/codec"
	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/oid"
	"github.com/teranos/statetree/st"
)

// Message types served by RegisterStateHandlers.
const (
	TypeSnapshot    MessageType = "st.snapshot"
	TypeUpdate      MessageType = "st.update"
	TypeMerge       MessageType = "st.merge"
	TypeMergeResult MessageType = "st.merge_result"
)

// SnapshotRequest is the payload of TypeSnapshot. An empty OID list asks for
// the whole tree.
type SnapshotRequest struct {
	OIDs []string `json:"oids,omitempty"`
}

// MergeResult is the payload of TypeMergeResult.
type MergeResult struct {
	Applied  int           `json:"applied"`
	Failures []FailedEntry `json:"failures,omitempty"`
}

// FailedEntry is one entry that could not be merged.
type FailedEntry struct {
	Key     string `json:"key"`
	Removal bool   `json:"removal,omitempty"`
	Error   string `json:"error"`
}

// RegisterStateHandlers installs TypeSnapshot and TypeMerge for doc. c
// encodes snapshot responses; merge requests name their own codec and fall
// back to c.
func RegisterStateHandlers(reg *Registry, doc *st.Document, c codec.Codec) error {
	if c == nil {
		c = codec.JSON{}
	}
	s := &stateHandlers{doc: doc, codec: c}
	if err := reg.Register(Handler{Type: TypeSnapshot, Handle: s.snapshot}); err != nil {
		return err
	}
	return reg.Register(Handler{Type: TypeMerge, Auth: true, Handle: s.merge})
}

type stateHandlers struct {
	doc   *st.Document
	codec codec.Codec
}

func (s *stateHandlers) snapshot(_ context.Context, msg Message) (Message, error) {
	var req SnapshotRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return Message{}, errors.Wrap(err, "decode snapshot request")
		}
	}
	filters := make([]oid.OID, 0, len(req.OIDs))
	for _, text := range req.OIDs {
		o, err := oid.Parse(text)
		if err != nil {
			return Message{}, err
		}
		filters = append(filters, o)
	}

	u, err := s.doc.Snapshot(filters...)
	if err != nil {
		return Message{}, err
	}
	data, err := s.codec.Marshal(u)
	if err != nil {
		return Message{}, err
	}
	resp := msg.Reply(TypeUpdate, data)
	resp.Codec = s.codec.Name()
	return resp, nil
}

func (s *stateHandlers) merge(_ context.Context, msg Message) (Message, error) {
	c := s.codec
	if msg.Codec != "" {
		var err error
		if c, err = codec.Lookup(msg.Codec); err != nil {
			return Message{}, err
		}
	}
	u, err := codec.Decode(c, msg.Payload)
	if err != nil {
		return Message{}, err
	}

	result := MergeResult{}
	var merr *st.MergeError
	switch err := s.doc.Merge(u); {
	case err == nil:
	case errors.As(err, &merr):
		for _, f := range merr.Failures {
			result.Failures = append(result.Failures, FailedEntry{Key: f.Key, Removal: f.Removal, Error: f.Err.Error()})
		}
	default:
		return Message{}, err
	}
	result.Applied = len(u.Changed) + len(u.Removed) - len(result.Failures)

	data, err := json.Marshal(result)
	if err != nil {
		return Message{}, err
	}
	return msg.Reply(TypeMergeResult, data), nil
}
