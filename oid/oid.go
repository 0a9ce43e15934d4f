package oid

import (
	"slices"
	"strings"

	"github.com/teranos/statetree/errors"
)

const (
	// DefaultNamespace is used when the text form omits a namespace.
	DefaultNamespace = "org.s7s.core.instance"

	// Wildcard marks a generic path position.
	Wildcard = "*"
)

// OID is an immutable object identifier. The zero value is the root of the
// default namespace. Every derivation returns a new OID; the receiver is
// never modified.
type OID struct {
	namespace string
	path      []string
	index     *Range
	time      *Range
}

// New builds an OID from a namespace and path components. An empty
// namespace selects DefaultNamespace.
func New(namespace string, components ...string) (OID, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := ValidateNamespace(namespace); err != nil {
		return OID{}, err
	}
	for _, c := range components {
		if err := ValidateComponent(c); err != nil {
			return OID{}, err
		}
	}
	return OID{namespace: namespace, path: slices.Clone(components)}, nil
}

// Root returns the empty-path OID of a namespace.
func Root(namespace string) (OID, error) {
	return New(namespace)
}

// Must panics if err is non-nil. Intended for literals in tests and
// package-level variables.
func Must(o OID, err error) OID {
	if err != nil {
		panic(err)
	}
	return o
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) OID {
	return Must(Parse(text))
}

// Parse reads the canonical text form "<namespace>:/<comp>/<comp>..." with an
// optional trailing selector.
func Parse(text string) (OID, error) {
	return ParseWith(SyntaxV1, text)
}

// ParseWith reads the text form using the given selector syntax.
func ParseWith(syntax Syntax, text string) (OID, error) {
	namespace := DefaultNamespace
	rest := text
	if ns, path, ok := strings.Cut(text, ":"); ok {
		if err := ValidateNamespace(ns); err != nil {
			return OID{}, err
		}
		namespace = ns
		rest = path
	}

	rest = strings.TrimLeft(rest, "/")
	if rest == "" {
		return OID{namespace: namespace}, nil
	}

	o := OID{namespace: namespace}

	var err error
	if rest, err = o.stripSelector(syntax, rest); err != nil {
		return OID{}, err
	}

	components := strings.Split(rest, "/")
	for _, c := range components {
		if err := ValidateComponent(c); err != nil {
			return OID{}, errors.Wrapf(err, "in %q", text)
		}
	}
	o.path = components
	return o, nil
}

// stripSelector detects a trailing selector, records it on o and returns the
// text without it.
func (o *OID) stripSelector(syntax Syntax, rest string) (string, error) {
	last := rest[len(rest)-1]

	var open byte
	switch last {
	case syntax.IndexClose:
		open = syntax.IndexOpen
	case syntax.TimeClose:
		open = syntax.TimeOpen
	default:
		return rest, nil
	}

	at := strings.LastIndexByte(rest, open)
	if at < 0 || at < strings.LastIndexByte(rest, '/') {
		return "", errors.Wrapf(ErrInvalidSelector, "unbalanced selector in %q", rest)
	}

	r, err := syntax.parseRange(rest[at+1 : len(rest)-1])
	if err != nil {
		return "", err
	}
	if open == syntax.IndexOpen {
		o.index = &r
	} else {
		o.time = &r
	}
	return rest[:at], nil
}

// ValidateNamespace checks the dotted identifier grammar.
func ValidateNamespace(namespace string) error {
	if namespace == "" {
		return errors.Wrap(ErrInvalidNamespace, "empty namespace")
	}
	for _, seg := range strings.Split(namespace, ".") {
		if seg == "" || !isLiteral(seg) {
			return errors.Wrapf(ErrInvalidNamespace, "%q", namespace)
		}
	}
	return nil
}

// ValidateComponent checks a single path component: a literal over
// [a-z0-9_-] or the wildcard.
func ValidateComponent(component string) error {
	if component == Wildcard {
		return nil
	}
	if component == "" {
		return errors.Wrap(ErrInvalidPathComponent, "empty component")
	}
	if !isLiteral(component) {
		return errors.Wrapf(ErrInvalidPathComponent, "%q", component)
	}
	return nil
}

func isLiteral(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '-':
		default:
			return false
		}
	}
	return s != ""
}

// String returns the canonical text form.
func (o OID) String() string {
	return o.FormatWith(SyntaxV1)
}

// FormatWith renders the text form using the given selector syntax.
func (o OID) FormatWith(syntax Syntax) string {
	var b strings.Builder
	b.WriteString(o.Namespace())
	b.WriteString(":/")
	b.WriteString(strings.Join(o.path, "/"))
	if o.index != nil {
		b.WriteString(syntax.formatRange(*o.index, syntax.IndexOpen, syntax.IndexClose))
	} else if o.time != nil {
		b.WriteString(syntax.formatRange(*o.time, syntax.TimeOpen, syntax.TimeClose))
	}
	return b.String()
}

// Key is the identity string: the text form without any selector.
func (o OID) Key() string {
	return o.Namespace() + ":/" + strings.Join(o.path, "/")
}

// MarshalText implements encoding.TextMarshaler.
func (o OID) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *OID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Namespace returns the OID namespace.
func (o OID) Namespace() string {
	if o.namespace == "" {
		return DefaultNamespace
	}
	return o.namespace
}

// Path returns a copy of the path components.
func (o OID) Path() []string {
	return slices.Clone(o.path)
}

// Len returns the number of path components.
func (o OID) Len() int {
	return len(o.path)
}

// Component returns the i-th path component.
func (o OID) Component(i int) string {
	return o.path[i]
}

// IsRoot reports whether the path is empty.
func (o OID) IsRoot() bool {
	return len(o.path) == 0
}

// IsConcrete reports whether no component is the wildcard.
func (o OID) IsConcrete() bool {
	return !slices.Contains(o.path, Wildcard)
}

// First returns the leftmost component.
func (o OID) First() (string, bool) {
	if len(o.path) == 0 {
		return "", false
	}
	return o.path[0], true
}

// Last returns the rightmost component.
func (o OID) Last() (string, bool) {
	if len(o.path) == 0 {
		return "", false
	}
	return o.path[len(o.path)-1], true
}

// Equal compares namespace and path. Selectors are ignored.
func (o OID) Equal(other OID) bool {
	return o.Namespace() == other.Namespace() && slices.Equal(o.path, other.path)
}

// Compare orders OIDs lexicographically over their path components.
func Compare(a, b OID) int {
	return slices.Compare(a.path, b.path)
}

// Child appends one component. The selector, if any, is dropped since it
// belonged to the previous last component.
func (o OID) Child(component string) (OID, error) {
	if err := ValidateComponent(component); err != nil {
		return OID{}, err
	}
	path := make([]string, len(o.path), len(o.path)+1)
	copy(path, o.path)
	return OID{namespace: o.namespace, path: append(path, component)}, nil
}

// Descend appends several components.
func (o OID) Descend(components ...string) (OID, error) {
	for _, c := range components {
		if err := ValidateComponent(c); err != nil {
			return OID{}, err
		}
	}
	return OID{namespace: o.namespace, path: slices.Concat(o.path, components)}, nil
}

// Parent returns the OID one level up. The root has no parent.
func (o OID) Parent() (OID, bool) {
	if len(o.path) == 0 {
		return OID{}, false
	}
	return o.Head(len(o.path) - 1), true
}

// Head truncates the path to n components, clamped to the path length.
func (o OID) Head(n int) OID {
	n = max(0, min(n, len(o.path)))
	return OID{namespace: o.namespace, path: slices.Clone(o.path[:n])}
}

// WithComponent replaces the i-th component. The selector is kept.
func (o OID) WithComponent(i int, component string) (OID, error) {
	if i < 0 || i >= len(o.path) {
		return OID{}, errors.Wrapf(ErrInvalidPathComponent, "position %d outside %s", i, o)
	}
	if err := ValidateComponent(component); err != nil {
		return OID{}, err
	}
	c := o.clone()
	c.path[i] = component
	return c, nil
}

// IsAncestorOf reports whether o addresses other or one of its ancestors. A
// wildcard on either side matches any literal at that position.
func (o OID) IsAncestorOf(other OID) bool {
	if o.Namespace() != other.Namespace() {
		return false
	}
	if len(other.path) < len(o.path) {
		return false
	}
	for i, c := range o.path {
		if c == Wildcard || other.path[i] == Wildcard {
			continue
		}
		if c != other.path[i] {
			return false
		}
	}
	return true
}

// IsDescendantOf is the inverse of IsAncestorOf.
func (o OID) IsDescendantOf(other OID) bool {
	return other.IsAncestorOf(o)
}

// Matches reports whether o, typically generic, addresses exactly other.
func (o OID) Matches(other OID) bool {
	return len(o.path) == len(other.path) && o.IsAncestorOf(other)
}

// Relativize returns the path suffix beyond ancestor. It returns nil when
// ancestor is not an ancestor of o.
func (o OID) Relativize(ancestor OID) []string {
	if !ancestor.IsAncestorOf(o) {
		return nil
	}
	return slices.Clone(o.path[len(ancestor.path):])
}

// Resolve substitutes wildcard positions left to right.
func (o OID) Resolve(components ...string) (OID, error) {
	return o.resolve(false, components)
}

// ResolveFromTail substitutes the rightmost wildcard positions, keeping the
// order of the given components.
func (o OID) ResolveFromTail(components ...string) (OID, error) {
	return o.resolve(true, components)
}

func (o OID) resolve(fromTail bool, components []string) (OID, error) {
	if o.IsConcrete() {
		return OID{}, errors.Wrapf(ErrAlreadyConcrete, "%s", o)
	}

	var slots []int
	for i, c := range o.path {
		if c == Wildcard {
			slots = append(slots, i)
		}
	}
	if len(components) > len(slots) {
		return OID{}, errors.Wrapf(ErrOverResolution, "%d components for %d wildcards in %s",
			len(components), len(slots), o)
	}
	if fromTail {
		slots = slots[len(slots)-len(components):]
	}

	resolved := o.clone()
	for i, c := range components {
		if c == Wildcard {
			return OID{}, errors.Wrap(ErrInvalidPathComponent, "cannot resolve to a wildcard")
		}
		if err := ValidateComponent(c); err != nil {
			return OID{}, err
		}
		resolved.path[slots[i]] = c
	}
	return resolved, nil
}

func (o OID) clone() OID {
	c := OID{namespace: o.namespace, path: slices.Clone(o.path)}
	if o.index != nil {
		r := *o.index
		c.index = &r
	}
	if o.time != nil {
		r := *o.time
		c.time = &r
	}
	return c
}

// IndexRange returns the index selector.
func (o OID) IndexRange() (Range, bool) {
	if o.index == nil {
		return Range{}, false
	}
	return *o.index, true
}

// TimestampRange returns the timestamp selector.
func (o OID) TimestampRange() (Range, bool) {
	if o.time == nil {
		return Range{}, false
	}
	return *o.time, true
}

// HasSelector reports whether any selector is attached.
func (o OID) HasSelector() bool {
	return o.index != nil || o.time != nil
}

// WithIndexRange attaches an index selector, replacing any other selector.
func (o OID) WithIndexRange(r Range) (OID, error) {
	if err := o.checkSelectable(r); err != nil {
		return OID{}, err
	}
	c := o.WithoutSelector()
	c.index = &r
	return c, nil
}

// WithTimestampRange attaches a timestamp selector, replacing any other selector.
func (o OID) WithTimestampRange(r Range) (OID, error) {
	if err := o.checkSelectable(r); err != nil {
		return OID{}, err
	}
	c := o.WithoutSelector()
	c.time = &r
	return c, nil
}

func (o OID) checkSelectable(r Range) error {
	if len(o.path) == 0 {
		return errors.Wrap(ErrInvalidSelector, "root has no component to select on")
	}
	if (r.HasStart && r.Start < 0) || (r.HasEnd && r.End < 0) {
		return errors.Wrap(ErrInvalidSelector, "negative bound")
	}
	if r.HasStart && r.HasEnd && r.Start > r.End {
		return errors.Wrapf(ErrInvalidSelector, "start %d exceeds end %d", r.Start, r.End)
	}
	return nil
}

// WithoutSelector returns o with no selector.
func (o OID) WithoutSelector() OID {
	return OID{namespace: o.namespace, path: slices.Clone(o.path)}
}
