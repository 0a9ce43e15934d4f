package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/teranos/statetree/st"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map keys,
// smallest integer encoding, no indefinite-length items. The same update
// always produces identical bytes, which Hash relies on.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// bound allocations from a hostile peer
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR encodes v with the deterministic encoder.
func MarshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// UnmarshalCBOR decodes CBOR data into v.
func UnmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// CBOR is the compact binary codec used between peers and for storage.
// Struct fields use their json tags.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Marshal(u st.Update) ([]byte, error) {
	return encMode.Marshal(u.Wire())
}

func (CBOR) Unmarshal(data []byte) (st.Update, error) {
	var w st.WireUpdate
	if err := decMode.Unmarshal(data, &w); err != nil {
		return st.Update{}, corrupt(err, "cbor")
	}
	return fromWire(w, "cbor")
}
