package st

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"slices"

	"github.com/teranos/statetree/errors"
)

// WireValue is the serializable form of an AttributeValue. Kind selects the
// populated field; an empty Kind is an absent value. Bytes and certificates
// travel as standard base64 so every codec can carry them as text. TOML has
// no null and its encoder skips nil pointers, so pointer fields carry no
// omitempty there.
type WireValue struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp" toml:"timestamp"`
	Kind      string  `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind,omitempty"`
	Bool      *bool   `json:"bool,omitempty" yaml:"bool,omitempty" toml:"bool"`
	Bools     []bool  `json:"bools,omitempty" yaml:"bools,omitempty" toml:"bools,omitempty"`
	Int       *int64  `json:"int,omitempty" yaml:"int,omitempty" toml:"int"`
	Ints      []int64 `json:"ints,omitempty" yaml:"ints,omitempty" toml:"ints,omitempty"`
	Text      *string `json:"text,omitempty" yaml:"text,omitempty" toml:"text"`
	Data      string  `json:"data,omitempty" yaml:"data,omitempty" toml:"data,omitempty"`
}

// WireUpdate is the serializable form of an Update.
type WireUpdate struct {
	Changed map[string][]WireValue `json:"changed" yaml:"changed" toml:"changed"`
	Removed []string               `json:"removed,omitempty" yaml:"removed,omitempty" toml:"removed,omitempty"`
}

// Wire converts the update to its serializable form.
func (u Update) Wire() WireUpdate {
	w := WireUpdate{
		Changed: make(map[string][]WireValue, len(u.Changed)),
		Removed: slices.Clone(u.Removed),
	}
	for k, vs := range u.Changed {
		wvs := make([]WireValue, len(vs))
		for i, v := range vs {
			wvs[i] = EncodeValue(v)
		}
		w.Changed[k] = wvs
	}
	return w
}

// Update converts the serializable form back, validating every value.
func (w WireUpdate) Update() (Update, error) {
	u := NewUpdate()
	for k, wvs := range w.Changed {
		vs := make([]AttributeValue, len(wvs))
		for i, wv := range wvs {
			v, err := DecodeValue(wv)
			if err != nil {
				return Update{}, errors.Wrapf(err, "entry %s", k)
			}
			vs[i] = v
		}
		u.Changed[k] = vs
	}
	u.Removed = slices.Clone(w.Removed)
	return u, nil
}

// MarshalJSON encodes the update through its wire form.
func (u Update) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.Wire())
}

// UnmarshalJSON decodes the wire form.
func (u *Update) UnmarshalJSON(data []byte) error {
	var w WireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.Wrap(err, "decode update")
	}
	decoded, err := w.Update()
	if err != nil {
		return err
	}
	*u = decoded
	return nil
}

// EncodeValue converts one value to its serializable form.
func EncodeValue(v AttributeValue) WireValue {
	w := WireValue{Timestamp: v.Timestamp}
	if v.Value == nil {
		return w
	}
	w.Kind = v.Value.Kind().String()

	switch tv := v.Value.(type) {
	case Bool:
		b := bool(tv)
		w.Bool = &b
	case BoolArray:
		w.Bools = slices.Clone([]bool(tv))
	case Int:
		n := int64(tv)
		w.Int = &n
	case IntArray:
		w.Ints = make([]int64, len(tv))
		for i, n := range tv {
			w.Ints[i] = int64(n)
		}
	case Long:
		n := int64(tv)
		w.Int = &n
	case String:
		s := string(tv)
		w.Text = &s
	case Bytes:
		w.Data = base64.StdEncoding.EncodeToString(tv)
	case Certificate:
		w.Data = base64.StdEncoding.EncodeToString(tv)
	case InstanceType:
		s := tv.String()
		w.Text = &s
	case OsType:
		s := tv.String()
		w.Text = &s
	}
	return w
}

// DecodeValue converts the serializable form back to a value.
func DecodeValue(w WireValue) (AttributeValue, error) {
	out := AttributeValue{Timestamp: w.Timestamp}
	if w.Kind == "" {
		return out, nil
	}

	kind, err := ParseKind(w.Kind)
	if err != nil {
		return out, errors.Mark(err, ErrInvalidUpdate)
	}

	missing := func() (AttributeValue, error) {
		return out, errors.Wrapf(ErrInvalidUpdate, "%s value without payload", kind)
	}

	switch kind {
	case KindBool:
		if w.Bool == nil {
			return missing()
		}
		out.Value = Bool(*w.Bool)
	case KindBoolArray:
		out.Value = BoolArray(append([]bool{}, w.Bools...))
	case KindInt:
		if w.Int == nil {
			return missing()
		}
		if *w.Int < math.MinInt32 || *w.Int > math.MaxInt32 {
			return out, errors.Wrapf(ErrInvalidUpdate, "int value %d overflows", *w.Int)
		}
		out.Value = Int(*w.Int)
	case KindIntArray:
		arr := make(IntArray, len(w.Ints))
		for i, n := range w.Ints {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return out, errors.Wrapf(ErrInvalidUpdate, "int array value %d overflows", n)
			}
			arr[i] = int32(n)
		}
		out.Value = arr
	case KindLong:
		if w.Int == nil {
			return missing()
		}
		out.Value = Long(*w.Int)
	case KindString:
		if w.Text == nil {
			return missing()
		}
		out.Value = String(*w.Text)
	case KindBytes, KindCertificate:
		data, err := base64.StdEncoding.DecodeString(w.Data)
		if err != nil {
			return out, errors.Wrapf(ErrInvalidUpdate, "%s payload is not base64", kind)
		}
		if data == nil {
			data = []byte{}
		}
		if kind == KindBytes {
			out.Value = Bytes(data)
		} else {
			out.Value = Certificate(data)
		}
	case KindInstanceType:
		if w.Text == nil {
			return missing()
		}
		t, err := ParseInstanceType(*w.Text)
		if err != nil {
			return out, errors.Mark(err, ErrInvalidUpdate)
		}
		out.Value = t
	case KindOsType:
		if w.Text == nil {
			return missing()
		}
		t, err := ParseOsType(*w.Text)
		if err != nil {
			return out, errors.Mark(err, ErrInvalidUpdate)
		}
		out.Value = t
	}
	return out, nil
}
