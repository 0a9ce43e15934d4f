package codec

import (
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/st"
)

// Proto carries the update as a google.protobuf.Struct, for peers that speak
// protobuf but have no generated types for the state tree. Struct numbers are
// doubles, so int64 values travel as decimal strings.
type Proto struct{}

func (Proto) Name() string { return "proto" }

func (Proto) Marshal(u st.Update) ([]byte, error) {
	w := u.Wire()

	changed := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(w.Changed))}
	for k, vs := range w.Changed {
		list := &structpb.ListValue{Values: make([]*structpb.Value, len(vs))}
		for i, v := range vs {
			list.Values[i] = structpb.NewStructValue(wireValueStruct(v))
		}
		changed.Fields[k] = structpb.NewListValue(list)
	}

	removed := &structpb.ListValue{Values: make([]*structpb.Value, len(w.Removed))}
	for i, k := range w.Removed {
		removed.Values[i] = structpb.NewStringValue(k)
	}

	root := &structpb.Struct{Fields: map[string]*structpb.Value{
		"changed": structpb.NewStructValue(changed),
		"removed": structpb.NewListValue(removed),
	}}
	data, err := proto.MarshalOptions{Deterministic: true}.Marshal(root)
	if err != nil {
		return nil, errors.Wrap(err, "proto: encode")
	}
	return data, nil
}

func wireValueStruct(v st.WireValue) *structpb.Struct {
	f := map[string]*structpb.Value{
		"timestamp": structpb.NewStringValue(strconv.FormatInt(v.Timestamp, 10)),
	}
	if v.Kind != "" {
		f["kind"] = structpb.NewStringValue(v.Kind)
	}
	if v.Bool != nil {
		f["bool"] = structpb.NewBoolValue(*v.Bool)
	}
	if v.Bools != nil {
		l := &structpb.ListValue{}
		for _, b := range v.Bools {
			l.Values = append(l.Values, structpb.NewBoolValue(b))
		}
		f["bools"] = structpb.NewListValue(l)
	}
	if v.Int != nil {
		f["int"] = structpb.NewStringValue(strconv.FormatInt(*v.Int, 10))
	}
	if v.Ints != nil {
		l := &structpb.ListValue{}
		for _, n := range v.Ints {
			l.Values = append(l.Values, structpb.NewStringValue(strconv.FormatInt(n, 10)))
		}
		f["ints"] = structpb.NewListValue(l)
	}
	if v.Text != nil {
		f["text"] = structpb.NewStringValue(*v.Text)
	}
	if v.Data != "" {
		f["data"] = structpb.NewStringValue(v.Data)
	}
	return &structpb.Struct{Fields: f}
}

func (Proto) Unmarshal(data []byte) (st.Update, error) {
	var root structpb.Struct
	if err := proto.Unmarshal(data, &root); err != nil {
		return st.Update{}, corrupt(err, "proto")
	}

	w := st.WireUpdate{Changed: map[string][]st.WireValue{}}
	if c, ok := root.Fields["changed"]; ok {
		sv := c.GetStructValue()
		if sv == nil {
			return st.Update{}, malformed("changed is not a struct")
		}
		for k, lv := range sv.Fields {
			list := lv.GetListValue()
			if list == nil {
				return st.Update{}, malformed("entry %s is not a list", k)
			}
			vs := make([]st.WireValue, len(list.Values))
			for i, item := range list.Values {
				v, err := structWireValue(item.GetStructValue())
				if err != nil {
					return st.Update{}, errors.Wrapf(err, "entry %s", k)
				}
				vs[i] = v
			}
			w.Changed[k] = vs
		}
	}
	if r, ok := root.Fields["removed"]; ok {
		list := r.GetListValue()
		if list == nil {
			return st.Update{}, malformed("removed is not a list")
		}
		for _, item := range list.Values {
			s, ok := item.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return st.Update{}, malformed("removed key is not a string")
			}
			w.Removed = append(w.Removed, s.StringValue)
		}
	}
	return fromWire(w, "proto")
}

func structWireValue(s *structpb.Struct) (st.WireValue, error) {
	var v st.WireValue
	if s == nil {
		return v, malformed("value is not a struct")
	}
	var err error
	for name, field := range s.Fields {
		switch name {
		case "timestamp":
			v.Timestamp, err = parseInt(field)
		case "kind":
			v.Kind, err = stringField(field)
		case "bool":
			b, ok := field.GetKind().(*structpb.Value_BoolValue)
			if !ok {
				return v, malformed("bool is not a bool")
			}
			v.Bool = &b.BoolValue
		case "bools":
			v.Bools = []bool{}
			for _, item := range field.GetListValue().GetValues() {
				b, ok := item.GetKind().(*structpb.Value_BoolValue)
				if !ok {
					return v, malformed("bools holds a non-bool")
				}
				v.Bools = append(v.Bools, b.BoolValue)
			}
		case "int":
			var n int64
			n, err = parseInt(field)
			v.Int = &n
		case "ints":
			v.Ints = []int64{}
			for _, item := range field.GetListValue().GetValues() {
				var n int64
				if n, err = parseInt(item); err != nil {
					break
				}
				v.Ints = append(v.Ints, n)
			}
		case "text":
			var t string
			t, err = stringField(field)
			v.Text = &t
		case "data":
			v.Data, err = stringField(field)
		default:
			return v, malformed("unknown field %q", name)
		}
		if err != nil {
			return v, err
		}
	}
	return v, nil
}

func stringField(v *structpb.Value) (string, error) {
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", malformed("expected a string")
	}
	return s.StringValue, nil
}

func parseInt(v *structpb.Value) (int64, error) {
	s, err := stringField(v)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, malformed("integer %q", s)
	}
	return n, nil
}

func malformed(format string, args ...any) error {
	return errors.Mark(errors.Newf("proto: "+format, args...), ErrCorrupt)
}
