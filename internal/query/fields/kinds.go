package fields

import (
	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/comparator"
	"github.com/zatekoja/clinicopsdashboard/internal/query/predicate"
)

var (
	patientName = joined("first_name", "last_name")
	recordID    = func(r entities.Record) string { return r.FirstStr("patient_id", "id") }
)

// Patients is the registry of the patient list.
func Patients() FieldSet {
	return FieldSet{
		Kind: KindPatients,
		Filtering: predicate.Fields{
			Searchable: []predicate.Accessor{
				patientName,
				recordID,
				str("gender"),
				str("blood_group"),
				str("phone"),
				str("email"),
			},
			Categorical: map[string]predicate.Accessor{
				"gender":     str("gender"),
				"bloodGroup": str("blood_group"),
			},
			Ranges: map[string]predicate.DateAccessor{
				"age": date("date_of_birth"),
			},
		},
		Sorting: comparator.Fields{
			Extractors: map[string]comparator.Extractor{
				"name":       byLower(patientName),
				"age":        byAge("date_of_birth"),
				"id":         byString(recordID),
				"gender":     byString(str("gender")),
				"bloodGroup": byString(str("blood_group")),
			},
			Default: byTime("created_at"),
		},
	}
}

// Appointments is the registry of the appointment list.
func Appointments() FieldSet {
	patient := firstStr("patient_name")
	doctor := firstStr("doctor_name")
	id := firstStr("appointment_id", "id")

	return FieldSet{
		Kind: KindAppointments,
		Filtering: predicate.Fields{
			Searchable: []predicate.Accessor{
				patient,
				doctor,
				str("department"),
				str("status"),
				id,
			},
			Categorical: map[string]predicate.Accessor{
				"status":     str("status"),
				"department": str("department"),
				"doctor":     doctor,
			},
		},
		Sorting: comparator.Fields{
			Extractors: map[string]comparator.Extractor{
				"date":    byTime("appointment_date"),
				"patient": byLower(patient),
				"doctor":  byLower(doctor),
				"status":  byString(str("status")),
				"id":      byString(id),
			},
			Default: byTime("created_at"),
		},
	}
}

// Assignments is the registry of the OPD assignment queue.
func Assignments() FieldSet {
	patient := firstStr("patient_name")
	doctor := firstStr("doctor_name")

	return FieldSet{
		Kind: KindAssignments,
		Filtering: predicate.Fields{
			Searchable: []predicate.Accessor{
				patient,
				doctor,
				str("department"),
				str("room"),
				str("token"),
			},
			Categorical: map[string]predicate.Accessor{
				"status":     str("status"),
				"department": str("department"),
				"room":       str("room"),
			},
			Ranges: map[string]predicate.DateAccessor{
				"age": date("patient_date_of_birth"),
			},
		},
		Sorting: comparator.Fields{
			Extractors: map[string]comparator.Extractor{
				"token":      byNumber("token"),
				"patient":    byLower(patient),
				"doctor":     byLower(doctor),
				"assignedAt": byTime("assigned_at"),
				"id":         byString(str("id")),
			},
			Default: byTime("created_at"),
		},
	}
}
