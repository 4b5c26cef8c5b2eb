package fields_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/comparator"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/internal/query/predicate"
	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

func TestLookup(t *testing.T) {
	for _, kind := range []string{fields.KindPatients, fields.KindAppointments, fields.KindAssignments} {
		fs, err := fields.Lookup(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, fs.Kind)
	}

	_, err := fields.Lookup("invoices")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
}

func TestKinds(t *testing.T) {
	assert.Equal(t, []string{"appointments", "assignments", "patients"}, fields.Kinds())
}

func TestPatients_Filters(t *testing.T) {
	fs := fields.Patients()

	assert.Equal(t, []string{"age", "bloodGroup", "gender"}, fs.FilterNames())
	assert.True(t, fs.IsRangeFilter("age"))
	assert.False(t, fs.IsRangeFilter("gender"))
	assert.Equal(t, []string{"age", "bloodGroup", "gender", "id", "name"}, fs.SortKeys())
}

func TestPatients_SearchMatchesFullName(t *testing.T) {
	fs := fields.Patients()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	rec := entities.Record{"first_name": "Ngozi", "last_name": "Okafor", "patient_id": "PT-0042"}

	pred, errs := predicate.Build("gozi oka", nil, fs.Filtering, now)
	require.Empty(t, errs)
	assert.True(t, pred(rec))

	pred, _ = predicate.Build("pt-0042", nil, fs.Filtering, now)
	assert.True(t, pred(rec))

	pred, _ = predicate.Build("adebayo", nil, fs.Filtering, now)
	assert.False(t, pred(rec))
}

func TestPatients_AgeSortFollowsBirthDate(t *testing.T) {
	fs := fields.Patients()
	records := []entities.Record{
		{"id": "old", "date_of_birth": "1950-03-10"},
		{"id": "young", "date_of_birth": "2015-07-01"},
		{"id": "mid", "date_of_birth": "1988-11-23"},
	}

	sortedIDs := func(dir entities.SortDirection) []string {
		sorted := comparator.Sorted(records, entities.SortSpec{Key: "age", Direction: dir}, fs.Sorting)
		got := make([]string, len(sorted))
		for i, r := range sorted {
			got[i] = r.Str("id")
		}
		return got
	}

	// Ascending birth date puts the oldest patient first
	assert.Equal(t, []string{"old", "mid", "young"}, sortedIDs(entities.SortAsc))
	assert.Equal(t, []string{"young", "mid", "old"}, sortedIDs(entities.SortDesc))
}

func TestAssignments_TokenSortsNumerically(t *testing.T) {
	fs := fields.Assignments()
	records := []entities.Record{
		{"id": "a", "token": "10"},
		{"id": "b", "token": 2.0},
		{"id": "c", "token": "1"},
	}

	sorted := comparator.Sorted(records, entities.SortSpec{Key: "token", Direction: entities.SortAsc}, fs.Sorting)

	got := make([]string, len(sorted))
	for i, r := range sorted {
		got[i] = r.Str("id")
	}
	assert.Equal(t, []string{"c", "b", "a"}, got)
}

func TestAppointments_DoctorFilterIsExact(t *testing.T) {
	fs := fields.Appointments()
	now := time.Now()
	spec := entities.FilterSpec{"doctor": {Value: "Dr. Bello"}}

	pred, errs := predicate.Build("", spec, fs.Filtering, now)
	require.Empty(t, errs)
	assert.True(t, pred(entities.Record{"doctor_name": "Dr. Bello"}))
	assert.False(t, pred(entities.Record{"doctor_name": "dr. bello"}))
}
