package entities

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Record is one patient, appointment or OPD assignment as returned by the
// records service. The query engine never interprets it beyond the field
// accessors registered for its kind.
type Record map[string]interface{}

// Str returns the field rendered as a string. Missing and null fields are "".
func (r Record) Str(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Number returns the field as a float64 when it is numeric or a numeric string.
func (r Record) Number(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Time parses the field as a timestamp or calendar date.
func (r Record) Time(field string) (time.Time, bool) {
	switch v := r[field].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// FirstStr returns the first non-empty string among fields.
func (r Record) FirstStr(fields ...string) string {
	for _, f := range fields {
		if s := r.Str(f); s != "" {
			return s
		}
	}
	return ""
}

// RecordPage is one page of the records service's paginated listing.
type RecordPage struct {
	Data     []Record `json:"data"`
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
	Pages    int      `json:"pages"`
}
