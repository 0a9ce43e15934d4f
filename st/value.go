package st

import (
	"bytes"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/teranos/statetree/errors"
)

// Kind tags the variant of a Value. An attribute's kind is pinned by its
// first write.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindBoolArray
	KindInt
	KindIntArray
	KindLong
	KindString
	KindBytes
	KindInstanceType
	KindOsType
	KindCertificate
)

var kindNames = [...]string{
	KindNone:         "none",
	KindBool:         "bool",
	KindBoolArray:    "bool_array",
	KindInt:          "int",
	KindIntArray:     "int_array",
	KindLong:         "long",
	KindString:       "string",
	KindBytes:        "bytes",
	KindInstanceType: "instance_type",
	KindOsType:       "os_type",
	KindCertificate:  "certificate",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name && Kind(k) != KindNone {
			return Kind(k), nil
		}
	}
	return KindNone, errors.Newf("unknown value kind %q", name)
}

// Value is the closed set of attribute value variants. The unexported
// marker keeps the set closed to this package.
type Value interface {
	Kind() Kind
	String() string
	value()
}

type (
	Bool      bool
	BoolArray []bool
	Int       int32
	IntArray  []int32
	Long      int64
	String    string
	Bytes     []byte
	// Certificate holds a DER encoded X.509 certificate.
	Certificate []byte
)

func (Bool) Kind() Kind        { return KindBool }
func (BoolArray) Kind() Kind   { return KindBoolArray }
func (Int) Kind() Kind         { return KindInt }
func (IntArray) Kind() Kind    { return KindIntArray }
func (Long) Kind() Kind        { return KindLong }
func (String) Kind() Kind      { return KindString }
func (Bytes) Kind() Kind       { return KindBytes }
func (Certificate) Kind() Kind { return KindCertificate }

func (Bool) value()         {}
func (BoolArray) value()    {}
func (Int) value()          {}
func (IntArray) value()     {}
func (Long) value()         {}
func (String) value()       {}
func (Bytes) value()        {}
func (Certificate) value()  {}
func (InstanceType) value() {}
func (OsType) value()       {}

func (v Bool) String() string { return strconv.FormatBool(bool(v)) }
func (v Int) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Long) String() string { return strconv.FormatInt(int64(v), 10) }

func (v String) String() string { return string(v) }

func (v Bytes) String() string { return base64.StdEncoding.EncodeToString(v) }

func (v BoolArray) String() string {
	parts := make([]string, len(v))
	for i, b := range v {
		parts[i] = strconv.FormatBool(b)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func (v IntArray) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatInt(int64(n), 10)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// X509 parses the certificate.
func (v Certificate) X509() (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(v)
	if err != nil {
		return nil, errors.Wrap(err, "parse certificate")
	}
	return cert, nil
}

func (v Certificate) String() string {
	if cert, err := v.X509(); err == nil {
		return "certificate(" + cert.Subject.String() + ")"
	}
	return fmt.Sprintf("certificate(%d bytes)", len(v))
}

// InstanceType identifies the role of a process in the platform.
type InstanceType uint8

const (
	InstanceUnknown InstanceType = iota
	InstanceServer
	InstanceAgent
	InstanceClient
	InstanceDeployer
	InstanceBootAgent
)

var instanceTypeNames = [...]string{
	InstanceUnknown:   "unknown",
	InstanceServer:    "server",
	InstanceAgent:     "agent",
	InstanceClient:    "client",
	InstanceDeployer:  "deployer",
	InstanceBootAgent: "bootagent",
}

func (InstanceType) Kind() Kind { return KindInstanceType }

func (t InstanceType) String() string {
	if int(t) < len(instanceTypeNames) {
		return instanceTypeNames[t]
	}
	return "unknown"
}

// ParseInstanceType is the inverse of InstanceType.String.
func ParseInstanceType(name string) (InstanceType, error) {
	if i := slices.Index(instanceTypeNames[:], strings.ToLower(name)); i >= 0 {
		return InstanceType(i), nil
	}
	return InstanceUnknown, errors.Newf("unknown instance type %q", name)
}

// OsType identifies an operating system family.
type OsType uint8

const (
	OsUnknown OsType = iota
	OsLinux
	OsWindows
	OsDarwin
	OsFreeBSD
	OsOpenBSD
	OsNetBSD
	OsSolaris
)

var osTypeNames = [...]string{
	OsUnknown: "unknown",
	OsLinux:   "linux",
	OsWindows: "windows",
	OsDarwin:  "darwin",
	OsFreeBSD: "freebsd",
	OsOpenBSD: "openbsd",
	OsNetBSD:  "netbsd",
	OsSolaris: "solaris",
}

func (OsType) Kind() Kind { return KindOsType }

func (t OsType) String() string {
	if int(t) < len(osTypeNames) {
		return osTypeNames[t]
	}
	return "unknown"
}

// ParseOsType accepts the names used by runtime.GOOS.
func ParseOsType(name string) (OsType, error) {
	if i := slices.Index(osTypeNames[:], strings.ToLower(name)); i >= 0 {
		return OsType(i), nil
	}
	return OsUnknown, errors.Newf("unknown os type %q", name)
}

// Equal reports whether a and b hold the same variant and content. Two nil
// values are equal.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case BoolArray:
		return slices.Equal(av, b.(BoolArray))
	case IntArray:
		return slices.Equal(av, b.(IntArray))
	case Bytes:
		return bytes.Equal(av, b.(Bytes))
	case Certificate:
		return bytes.Equal(av, b.(Certificate))
	default:
		return a == b
	}
}

// cloneValue copies the backing array of slice variants so stored values
// cannot be mutated through the caller's slice.
func cloneValue(v Value) Value {
	switch tv := v.(type) {
	case BoolArray:
		return slices.Clone(tv)
	case IntArray:
		return slices.Clone(tv)
	case Bytes:
		return Bytes(bytes.Clone(tv))
	case Certificate:
		return Certificate(bytes.Clone(tv))
	default:
		return v
	}
}
