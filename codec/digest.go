package codec

import (
	"slices"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// Digest is a 32-byte keyed BLAKE3 hash of an update.
type Digest [32]byte

// updateDomainKey separates update digests from any other BLAKE3 use. The
// bytes are the ASCII domain name, zero-padded; changing them invalidates
// every stored digest.
var updateDomainKey = [32]byte{
	's', 't', 'a', 't', 'e', 't', 'r', 'e', 'e', '.', 'u', 'p', 'd', 'a', 't', 'e',
}

// Hash digests u over its deterministic CBOR form. Removed keys are sorted
// first, so two updates with the same content always hash alike.
func Hash(u st.Update) (Digest, error) {
	w := u.Wire()
	slices.Sort(w.Removed)
	data, err := encMode.Marshal(w)
	if err != nil {
		return Digest{}, errors.Wrap(err, "digest: encode")
	}
	return Sum(data), nil
}

// Sum digests raw bytes in the update domain.
func Sum(data []byte) Digest {
	h, err := blake3.NewKeyed(updateDomainKey[:])
	if err != nil {
		panic("codec: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// String returns the base58 form.
func (d Digest) String() string {
	return base58.Encode(d[:])
}

// IsZero reports whether d is the zero digest.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest parses the base58 form produced by String.
func ParseDigest(s string) (Digest, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Digest{}, errors.Mark(errors.Wrapf(err, "digest %q", s), ErrCorrupt)
	}
	if len(raw) != len(Digest{}) {
		return Digest{}, errors.Mark(errors.Newf("digest %q: %d bytes", s, len(raw)), ErrCorrupt)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}
