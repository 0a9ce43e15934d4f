package oid

import "github.com/teranos/statetree/errors"

// Caller input errors. They are never retried and always surface to the
// caller that built or parsed the OID.
var (
	ErrInvalidNamespace     = errors.New("invalid namespace")
	ErrInvalidPathComponent = errors.New("invalid path component")
	ErrInvalidSelector      = errors.New("invalid selector")
	ErrAlreadyConcrete      = errors.New("oid is already concrete")
	ErrOverResolution       = errors.New("more components than wildcards")
)
