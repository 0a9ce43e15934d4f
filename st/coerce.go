package st

import (
	"strconv"
	"strings"

	"github.com/teranos/statetree/errors"
)

// The As accessors accept the exact variant and, one level deep, a String
// holding a parseable literal (or the reverse for AsString). Legacy callers
// store loosely typed configuration as strings.

// AsBool returns the value as a bool.
func (a *Attribute) AsBool() (bool, error) {
	v, err := a.present()
	if err != nil {
		return false, err
	}
	switch tv := v.(type) {
	case Bool:
		return bool(tv), nil
	case String:
		b, err := strconv.ParseBool(strings.TrimSpace(string(tv)))
		if err != nil {
			return false, a.wrongType(v, "bool")
		}
		return b, nil
	}
	return false, a.wrongType(v, "bool")
}

// AsInt returns the value as an int32.
func (a *Attribute) AsInt() (int32, error) {
	v, err := a.present()
	if err != nil {
		return 0, err
	}
	switch tv := v.(type) {
	case Int:
		return int32(tv), nil
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(string(tv)), 10, 32)
		if err != nil {
			return 0, a.wrongType(v, "int")
		}
		return int32(n), nil
	}
	return 0, a.wrongType(v, "int")
}

// AsLong returns the value as an int64. Int widens.
func (a *Attribute) AsLong() (int64, error) {
	v, err := a.present()
	if err != nil {
		return 0, err
	}
	switch tv := v.(type) {
	case Long:
		return int64(tv), nil
	case Int:
		return int64(tv), nil
	case String:
		n, err := strconv.ParseInt(strings.TrimSpace(string(tv)), 10, 64)
		if err != nil {
			return 0, a.wrongType(v, "long")
		}
		return n, nil
	}
	return 0, a.wrongType(v, "long")
}

// AsString returns the value as a string. Scalars are formatted.
func (a *Attribute) AsString() (string, error) {
	v, err := a.present()
	if err != nil {
		return "", err
	}
	switch v.(type) {
	case String, Bool, Int, Long, InstanceType, OsType:
		return v.String(), nil
	}
	return "", a.wrongType(v, "string")
}

// AsBytes returns byte-backed values.
func (a *Attribute) AsBytes() ([]byte, error) {
	v, err := a.present()
	if err != nil {
		return nil, err
	}
	switch tv := v.(type) {
	case Bytes:
		return []byte(tv), nil
	case Certificate:
		return []byte(tv), nil
	case String:
		return []byte(tv), nil
	}
	return nil, a.wrongType(v, "bytes")
}

func (a *Attribute) present() (Value, error) {
	v := a.Get()
	if v == nil {
		return nil, errors.Wrapf(ErrNoValue, "%s", a.OID())
	}
	return v, nil
}

func (a *Attribute) wrongType(v Value, want string) error {
	return errors.Wrapf(ErrWrongType, "%s holds %s, want %s", a.OID(), v.Kind(), want)
}
