// Package oid implements Object Identifiers, the addressing scheme of the
// state tree.
//
// An OID is a namespace plus an ordered path of components. A component is
// either a concrete literal or the wildcard "*", which makes the OID generic
// at that position. The last component may carry one selector:
//
//	org.s7s.core.instance:/profile/*/hostname        generic
//	org.s7s.core.instance:/profile/*[0..9]           index range over a collection
//	org.s7s.core.instance:/profile/a/cpu(1700..1800) timestamp range over history
//
// The text form is a stable wire contract consumed by operator tooling and
// other instances. Identity (Equal, Key) covers namespace and path only;
// selectors scope queries and never participate in identity.
package oid
