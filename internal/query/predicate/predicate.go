// Package predicate turns a free-text query and a filter spec into a single
// record predicate.
package predicate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// Predicate decides whether a record is visible.
type Predicate func(entities.Record) bool

// Accessor extracts a searchable or categorical value.
type Accessor func(entities.Record) string

// DateAccessor extracts the date an age range is derived from.
type DateAccessor func(entities.Record) (time.Time, bool)

// Fields is the filtering half of a record kind's field registry.
type Fields struct {
	// Searchable values are OR-matched against the free-text query.
	Searchable []Accessor
	// Categorical maps a filter name to the raw value it is compared with.
	Categorical map[string]Accessor
	// Ranges maps a filter name to the birth date its age bounds apply to.
	Ranges map[string]DateAccessor
}

// Build composes the text match, every categorical equality and every age
// range into one AND-ed predicate evaluated against now.
//
// Filter values that cannot be applied (unparseable or negative bounds,
// unknown filter names) impose no constraint; they are returned as
// INVALID_FILTER_VALUE errors so callers can report them. The predicate is
// always usable.
func Build(query string, spec entities.FilterSpec, fields Fields, now time.Time) (Predicate, []error) {
	var checks []Predicate

	if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
		checks = append(checks, textMatch(q, fields.Searchable))
	}

	filters, ignored := filterChecks(spec, fields, calendarDate(now))
	checks = append(checks, filters...)

	return func(r entities.Record) bool {
		for _, check := range checks {
			if !check(r) {
				return false
			}
		}
		return true
	}, ignored
}

// Constrains reports whether spec narrows the record set at all, along with
// the filter values it ignores. A spec holding only invalid bounds or unknown
// names constrains nothing.
func Constrains(spec entities.FilterSpec, fields Fields) (bool, []error) {
	checks, ignored := filterChecks(spec, fields, calendarDate(time.Now()))
	return len(checks) > 0, ignored
}

func filterChecks(spec entities.FilterSpec, fields Fields, today time.Time) ([]Predicate, []error) {
	var (
		checks  []Predicate
		ignored []error
	)

	// Deterministic order keeps the ignored list stable for callers and tests.
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := spec[name]
		if value.IsEmpty() {
			continue
		}

		if accessor, ok := fields.Categorical[name]; ok {
			if value.Value == "" {
				continue
			}
			checks = append(checks, equals(accessor, value.Value))
			continue
		}

		if birthDate, ok := fields.Ranges[name]; ok {
			minAge, err := parseBound(name, "min", value.Min)
			if err != nil {
				ignored = append(ignored, err)
			}
			maxAge, err := parseBound(name, "max", value.Max)
			if err != nil {
				ignored = append(ignored, err)
			}
			if minAge != nil {
				checks = append(checks, atLeastAge(birthDate, today, *minAge))
			}
			if maxAge != nil {
				checks = append(checks, atMostAge(birthDate, today, *maxAge))
			}
			continue
		}

		ignored = append(ignored, apperrors.NewInvalidFilterValueError(name, value.Value, fmt.Errorf("unknown filter")))
	}

	return checks, ignored
}

// MatchesText reports whether any accessor contains query, case-insensitively.
// A blank query matches everything.
func MatchesText(r entities.Record, query string, accessors []Accessor) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	return textMatch(q, accessors)(r)
}

func textMatch(lowered string, accessors []Accessor) Predicate {
	return func(r entities.Record) bool {
		for _, get := range accessors {
			if strings.Contains(strings.ToLower(get(r)), lowered) {
				return true
			}
		}
		return false
	}
}

func equals(get Accessor, want string) Predicate {
	return func(r entities.Record) bool {
		return get(r) == want
	}
}

// atLeastAge holds when the birth date is on or before today minus years.
func atLeastAge(birthDate DateAccessor, today time.Time, years int) Predicate {
	cutoff := today.AddDate(-years, 0, 0)
	return func(r entities.Record) bool {
		dob, ok := birthDate(r)
		if !ok {
			return false
		}
		return !calendarDate(dob).After(cutoff)
	}
}

// atMostAge holds when the birth date is on or after today minus years.
func atMostAge(birthDate DateAccessor, today time.Time, years int) Predicate {
	cutoff := today.AddDate(-years, 0, 0)
	return func(r entities.Record) bool {
		dob, ok := birthDate(r)
		if !ok {
			return false
		}
		return !calendarDate(dob).Before(cutoff)
	}
}

func parseBound(filter, bound, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperrors.NewInvalidFilterValueError(filter+"."+bound, raw, err)
	}
	if n < 0 {
		return nil, apperrors.NewInvalidFilterValueError(filter+"."+bound, raw, fmt.Errorf("must not be negative"))
	}
	return &n, nil
}

// calendarDate drops the clock so age arithmetic works in whole days.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
