// Package comparator turns a sort spec into a total order over records.
package comparator

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
)

type keyKind uint8

const (
	kindMissing keyKind = iota
	kindNumber
	kindString
)

// Key is an extracted sort value. The zero Key is missing and orders before
// every present value.
type Key struct {
	kind keyKind
	num  float64
	str  string
}

// Missing is the key for absent values.
var Missing = Key{}

// Number returns a numeric key.
func Number(n float64) Key { return Key{kind: kindNumber, num: n} }

// String returns a string key. The empty string is treated as missing.
func String(s string) Key {
	if s == "" {
		return Missing
	}
	return Key{kind: kindString, str: s}
}

// Lower returns a lower-cased string key.
func Lower(s string) Key { return String(strings.ToLower(s)) }

// Timestamp returns a key ordering earlier instants first.
func Timestamp(t time.Time, ok bool) Key {
	if !ok {
		return Missing
	}
	return Number(float64(t.UnixMilli()))
}

// Compare orders missing keys first, numbers before strings, then by value.
func Compare(a, b Key) int {
	if a.kind != b.kind {
		return cmp.Compare(a.kind, b.kind)
	}
	switch a.kind {
	case kindNumber:
		return cmp.Compare(a.num, b.num)
	case kindString:
		return cmp.Compare(a.str, b.str)
	}
	return 0
}

// Extractor produces the sort key of a record.
type Extractor func(entities.Record) Key

// Fields is the sorting half of a record kind's field registry.
type Fields struct {
	Extractors map[string]Extractor
	// Default applies to keys with no registered extractor.
	Default Extractor
}

// Comparator is a three-way record comparison.
type Comparator func(a, b entities.Record) int

// Build returns the comparator for spec. Descending flips the sign of the
// base comparison; it never changes how a key is extracted.
func Build(spec entities.SortSpec, fields Fields) Comparator {
	extract, ok := fields.Extractors[spec.Key]
	if !ok {
		extract = fields.Default
	}
	if extract == nil {
		return func(a, b entities.Record) int { return 0 }
	}

	sign := 1
	if spec.Direction == entities.SortDesc {
		sign = -1
	}

	return func(a, b entities.Record) int {
		return sign * Compare(extract(a), extract(b))
	}
}

// Sorted returns a stably sorted copy of records. Records that compare equal
// keep their input order.
func Sorted(records []entities.Record, spec entities.SortSpec, fields Fields) []entities.Record {
	out := slices.Clone(records)
	if spec.Key == "" {
		return out
	}
	slices.SortStableFunc(out, Build(spec, fields))
	return out
}
