package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator for request payloads
type Validator struct {
	validator *validator.Validate
}

// New creates a validator using json tag names in error fields
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonTagName)
	return &Validator{validator: v}
}

// Validate validates a struct against its `validate` tags
func (v *Validator) Validate(i interface{}) error {
	return v.validator.Struct(i)
}

// FormatValidationErrors turns validation errors into field -> message
func (v *Validator) FormatValidationErrors(err error) map[string]string {
	out := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return out
	}

	for _, e := range validationErrors {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out[field] = field + " is required"
		case "oneof":
			out[field] = field + " must be one of: " + e.Param()
		case "min":
			out[field] = field + " must be at least " + e.Param()
		case "max":
			out[field] = field + " must be at most " + e.Param()
		case "gte":
			out[field] = field + " must be greater than or equal to " + e.Param()
		case "lte":
			out[field] = field + " must be less than or equal to " + e.Param()
		default:
			out[field] = field + " is invalid"
		}
	}

	return out
}

func jsonTagName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}
