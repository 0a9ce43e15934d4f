package codec

import (
	"sort"
	"sync"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// ErrUnknownCodec is returned by Lookup for unregistered names.
var ErrUnknownCodec = errors.New("unknown codec")

// ErrCorrupt marks payloads a codec could not decode.
var ErrCorrupt = errors.New("corrupt payload")

// Codec encodes and decodes updates.
type Codec interface {
	Name() string
	Marshal(u st.Update) ([]byte, error)
	Unmarshal(data []byte) (st.Update, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Codec{}
)

func init() {
	for _, c := range []Codec{JSON{}, CBOR{}, YAML{}, TOML{}, Proto{}} {
		Register(c)
	}
}

// Register adds c under its name. Registering a name twice panics.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[c.Name()]; dup {
		panic("codec: duplicate registration of " + c.Name())
	}
	registry[c.Name()] = c
}

// Lookup returns the codec registered under name.
func Lookup(name string) (Codec, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnknownCodec, "%q", name),
			"available codecs: %v", namesLocked())
	}
	return c, nil
}

// Names lists registered codecs in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return namesLocked()
}

func namesLocked() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// corrupt wraps a decode failure so callers can test for ErrCorrupt.
func corrupt(err error, codec string) error {
	if errors.Is(err, st.ErrInvalidUpdate) {
		return errors.Wrapf(err, "%s", codec)
	}
	return errors.Mark(errors.Wrapf(err, "%s: decode", codec), ErrCorrupt)
}
