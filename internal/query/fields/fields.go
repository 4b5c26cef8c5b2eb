// Package fields registers, per record kind, which fields are searchable,
// filterable and sortable and how their values are extracted.
package fields

import (
	"sort"
	"strings"
	"time"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/comparator"
	"github.com/zatekoja/clinicopsdashboard/internal/query/predicate"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// Record kinds served by the dashboard
const (
	KindPatients     = "patients"
	KindAppointments = "appointments"
	KindAssignments  = "assignments"
)

// FieldSet is the registered accessor map of one record kind.
type FieldSet struct {
	Kind      string
	Filtering predicate.Fields
	Sorting   comparator.Fields
}

// FilterNames lists categorical and range filter names, sorted.
func (f FieldSet) FilterNames() []string {
	var names []string
	for name := range f.Filtering.Categorical {
		names = append(names, name)
	}
	for name := range f.Filtering.Ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SortKeys lists registered sort keys, sorted.
func (f FieldSet) SortKeys() []string {
	keys := make([]string, 0, len(f.Sorting.Extractors))
	for key := range f.Sorting.Extractors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IsRangeFilter reports whether name takes min/max bounds.
func (f FieldSet) IsRangeFilter(name string) bool {
	_, ok := f.Filtering.Ranges[name]
	return ok
}

var registry = map[string]FieldSet{
	KindPatients:     Patients(),
	KindAppointments: Appointments(),
	KindAssignments:  Assignments(),
}

// Lookup returns the FieldSet registered for kind.
func Lookup(kind string) (FieldSet, error) {
	fs, ok := registry[kind]
	if !ok {
		return FieldSet{}, apperrors.NewNotFoundError("unknown record kind: " + kind)
	}
	return fs, nil
}

// Kinds lists registered record kinds, sorted.
func Kinds() []string {
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

func str(field string) predicate.Accessor {
	return func(r entities.Record) string { return r.Str(field) }
}

func firstStr(fields ...string) predicate.Accessor {
	return func(r entities.Record) string { return r.FirstStr(fields...) }
}

func date(field string) predicate.DateAccessor {
	return func(r entities.Record) (time.Time, bool) { return r.Time(field) }
}

func joined(fields ...string) func(entities.Record) string {
	return func(r entities.Record) string {
		parts := make([]string, 0, len(fields))
		for _, f := range fields {
			if s := strings.TrimSpace(r.Str(f)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
}

func byString(get func(entities.Record) string) comparator.Extractor {
	return func(r entities.Record) comparator.Key { return comparator.String(get(r)) }
}

func byLower(get func(entities.Record) string) comparator.Extractor {
	return func(r entities.Record) comparator.Key { return comparator.Lower(get(r)) }
}

func byNumber(field string) comparator.Extractor {
	return func(r entities.Record) comparator.Key {
		n, ok := r.Number(field)
		if !ok {
			return comparator.Missing
		}
		return comparator.Number(n)
	}
}

func byTime(field string) comparator.Extractor {
	return func(r entities.Record) comparator.Key {
		return comparator.Timestamp(r.Time(field))
	}
}

// byAge orders by birth-date timestamp, so ascending puts the oldest first.
func byAge(field string) comparator.Extractor {
	return byTime(field)
}
