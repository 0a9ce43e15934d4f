package oid

import (
	"math"
	"strconv"
	"strings"

	"github.com/teranos/statetree/errors"
)

// Range is an inclusive interval attached to the last component of an OID.
// Open ends default to 0 and math.MaxInt64.
type Range struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
}

// Span returns the closed range [start, end].
func Span(start, end int64) Range {
	return Range{Start: start, End: end, HasStart: true, HasEnd: true}
}

// Point returns the range [v, v].
func Point(v int64) Range {
	return Span(v, v)
}

// Lo returns the effective lower bound.
func (r Range) Lo() int64 {
	if r.HasStart {
		return r.Start
	}
	return 0
}

// Hi returns the effective upper bound.
func (r Range) Hi() int64 {
	if r.HasEnd {
		return r.End
	}
	return math.MaxInt64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v int64) bool {
	return v >= r.Lo() && v <= r.Hi()
}

// Syntax describes the selector delimiters of the OID text form. The
// delimiters are part of the wire contract between instances, so they are
// versioned rather than hard-coded into the parser.
type Syntax struct {
	Name       string
	IndexOpen  byte
	IndexClose byte
	TimeOpen   byte
	TimeClose  byte
	RangeSep   string
}

// SyntaxV1 is the canonical syntax: "[a..b]" selects indices and "(a..b)"
// selects timestamps.
var SyntaxV1 = Syntax{
	Name:       "v1",
	IndexOpen:  '[',
	IndexClose: ']',
	TimeOpen:   '(',
	TimeClose:  ')',
	RangeSep:   "..",
}

var syntaxes = map[string]Syntax{
	SyntaxV1.Name: SyntaxV1,
}

// LookupSyntax returns the syntax registered under name.
func LookupSyntax(name string) (Syntax, bool) {
	s, ok := syntaxes[name]
	return s, ok
}

func (s Syntax) formatRange(r Range, open, close byte) string {
	var b strings.Builder
	b.WriteByte(open)
	if r.HasStart && r.HasEnd && r.Start == r.End {
		b.WriteString(strconv.FormatInt(r.Start, 10))
	} else {
		if r.HasStart {
			b.WriteString(strconv.FormatInt(r.Start, 10))
		}
		b.WriteString(s.RangeSep)
		if r.HasEnd {
			b.WriteString(strconv.FormatInt(r.End, 10))
		}
	}
	b.WriteByte(close)
	return b.String()
}

func (s Syntax) parseRange(body string) (Range, error) {
	if body == "" {
		return Range{}, errors.Wrap(ErrInvalidSelector, "empty selector")
	}

	lo, hi, ranged := strings.Cut(body, s.RangeSep)
	if !ranged {
		v, err := parseBound(body)
		if err != nil {
			return Range{}, err
		}
		return Point(v), nil
	}

	var r Range
	if lo != "" {
		v, err := parseBound(lo)
		if err != nil {
			return Range{}, err
		}
		r.Start, r.HasStart = v, true
	}
	if hi != "" {
		v, err := parseBound(hi)
		if err != nil {
			return Range{}, err
		}
		r.End, r.HasEnd = v, true
	}
	if r.HasStart && r.HasEnd && r.Start > r.End {
		return Range{}, errors.Wrapf(ErrInvalidSelector, "start %d exceeds end %d", r.Start, r.End)
	}
	return r, nil
}

func parseBound(text string) (int64, error) {
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidSelector, "bound %q", text)
	}
	if v < 0 {
		return 0, errors.Wrapf(ErrInvalidSelector, "negative bound %d", v)
	}
	return v, nil
}
