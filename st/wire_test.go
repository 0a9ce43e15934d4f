package st

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/statetree/errors"
	"github.com/teranos/statetree/oid"
)

func TestValueWireForms(t *testing.T) {
	values := []Value{
		Bool(false),
		BoolArray{true, false},
		Int(-7),
		IntArray{1, 2, 3},
		Long(1 << 50),
		String(""),
		String("dev1"),
		Bytes{0, 1, 2},
		InstanceAgent,
		OsDarwin,
		Certificate{0x30, 0x82},
	}

	for _, v := range values {
		t.Run(v.Kind().String(), func(t *testing.T) {
			in := AttributeValue{Timestamp: 42, Value: v}
			out, err := DecodeValue(EncodeValue(in))
			require.NoError(t, err)
			assert.True(t, in.equal(out), "%v != %v", in, out)
		})
	}

	absent, err := DecodeValue(EncodeValue(AttributeValue{Timestamp: 9}))
	require.NoError(t, err)
	assert.False(t, absent.Present())
	assert.Equal(t, int64(9), absent.Timestamp)
}

func TestDecodeValueRejects(t *testing.T) {
	big := int64(1 << 40)
	tests := map[string]WireValue{
		"unknown kind":   {Kind: "float"},
		"missing bool":   {Kind: "bool"},
		"int overflow":   {Kind: "int", Int: &big},
		"bad base64":     {Kind: "bytes", Data: "!!"},
		"bad enum":       {Kind: "os_type", Text: ptr("plan9")},
		"missing text":   {Kind: "string"},
		"array overflow": {Kind: "int_array", Ints: []int64{big}},
	}
	for name, w := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeValue(w)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidUpdate), "got %v", err)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestUpdateJSON(t *testing.T) {
	u := NewUpdate()
	u.Put(key("a"), AttributeValue{Timestamp: 1, Value: String("x")})
	u.Put(key("b(1..2)"), AttributeValue{Timestamp: 2, Value: Int(2)}, AttributeValue{Timestamp: 1, Value: Int(1)})
	u.Remove(key("c"))

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"changed": {
			"org.s7s.test:/a": [{"timestamp": 1, "kind": "string", "text": "x"}],
			"org.s7s.test:/b(1..2)": [
				{"timestamp": 2, "kind": "int", "int": 2},
				{"timestamp": 1, "kind": "int", "int": 1}
			]
		},
		"removed": ["org.s7s.test:/c"]
	}`, string(data))

	var back Update
	require.NoError(t, json.Unmarshal(data, &back))
	if diff := cmp.Diff(u, back, updateCmp...); diff != "" {
		t.Errorf("json round trip (-want +got):\n%s", diff)
	}

	assert.Error(t, json.Unmarshal([]byte(`{"changed":{"k":[{"kind":"nope"}]}}`), &back))
}

func TestUpdateHelpers(t *testing.T) {
	u := NewUpdate()
	assert.True(t, u.IsEmpty())

	u.Put(key("p/a"), AttributeValue{Timestamp: 1, Value: Bool(true)})
	u.Put(key("q/b"), AttributeValue{Timestamp: 1, Value: Bool(true)})
	u.Remove(key("p/z"))
	u.Remove(key("p/z"))
	assert.Equal(t, []string{key("p/z")}, u.Removed)
	assert.Equal(t, []string{key("p/a"), key("q/b")}, u.Keys())

	scoped := u.Within(oid.MustParse(key("p")))
	assert.Equal(t, []string{key("p/a")}, scoped.Keys())
	assert.Equal(t, []string{key("p/z")}, scoped.Removed)

	c := u.Clone()
	assert.True(t, c.Equal(u))
	c.Put(key("p/a"), AttributeValue{Timestamp: 2, Value: Bool(true)})
	assert.False(t, c.Equal(u))

	var merged Update
	merged.Add(u)
	assert.True(t, merged.Equal(u))
}

func TestDiff(t *testing.T) {
	from := NewUpdate()
	from.Put(key("same"), AttributeValue{Timestamp: 1, Value: Int(1)})
	from.Put(key("changed"), AttributeValue{Timestamp: 1, Value: Int(1)})
	from.Put(key("gone"), AttributeValue{Timestamp: 1, Value: Int(1)})
	from.Put(key("hist(1..2)"), AttributeValue{Timestamp: 2, Value: Int(1)})

	to := NewUpdate()
	to.Put(key("same"), AttributeValue{Timestamp: 1, Value: Int(1)})
	to.Put(key("changed"), AttributeValue{Timestamp: 2, Value: Int(1)})
	to.Put(key("new"), AttributeValue{Timestamp: 1, Value: Int(1)})

	patch := Diff(from, to)
	assert.Equal(t, []string{key("changed"), key("new")}, patch.Keys())
	assert.Equal(t, []string{key("gone")}, patch.Removed, "history keys never produce removals")

	assert.True(t, Diff(to, to).IsEmpty())
}

func TestRetentionParse(t *testing.T) {
	tests := []struct {
		in   string
		want RetentionPolicy
	}{
		{"", RetentionPolicy{}},
		{"none", RetentionPolicy{}},
		{"unlimited", Unlimited()},
		{"items:5", ItemLimited(5)},
		{"time:10m", TimeLimited(10 * time.Minute)},
	}
	for _, tt := range tests {
		got, err := ParseRetention(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)

		again, err := ParseRetention(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}

	for _, bad := range []string{"items", "items:-1", "time:soon", "weekly:1"} {
		_, err := ParseRetention(bad)
		assert.Error(t, err, bad)
	}
	assert.False(t, RetentionPolicy{}.Enabled())
	assert.True(t, ItemLimited(0).Enabled())
}

func TestKindNames(t *testing.T) {
	for k := KindBool; k <= KindCertificate; k++ {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("none")
	assert.Error(t, err)

	it, err := ParseInstanceType("Agent")
	require.NoError(t, err)
	assert.Equal(t, InstanceAgent, it)
	_, err = ParseInstanceType("robot")
	assert.Error(t, err)
}

func TestValueEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Int(1)))
	assert.False(t, Equal(Int(1), Long(1)))
	assert.True(t, Equal(IntArray{1, 2}, IntArray{1, 2}))
	assert.False(t, Equal(Bytes{1}, Bytes{2}))
	assert.True(t, Equal(OsLinux, OsLinux))
	assert.Equal(t, "[true false]", BoolArray{true, false}.String())
	assert.Equal(t, "certificate(2 bytes)", Certificate{1, 2}.String())
}
