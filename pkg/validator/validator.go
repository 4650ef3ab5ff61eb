package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jwalitptl/clinic-api/pkg/errors"
)

// FieldError describes one failed rule on one field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var messages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
	"min":      "is too short",
	"max":      "is too long",
	"gt":       "is too small",
	"gte":      "is too small",
	"lt":       "is too large",
	"lte":      "is too large",
	"oneof":    "is not an allowed value",
	"datetime": "has the wrong format",
	"gtfield":  "must be after the start",
}

// Validator checks struct tags and reports fields by their json names.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	return &Validator{v: Configure(validator.New())}
}

// Configure makes v report json field names. It is also applied to gin's
// binding engine so both paths produce the same field names.
func Configure(v *validator.Validate) *validator.Validate {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Struct validates s and returns a Validation error listing every failed
// field.
func (v *Validator) Struct(s interface{}) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}
	fields := FieldErrors(err)
	if len(fields) == 0 {
		return apperrors.BadRequest("invalid input", err)
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Field + " " + f.Message
	}
	return apperrors.Validation(strings.Join(parts, "; "))
}

// FieldErrors flattens validator errors; anything else yields nil.
func FieldErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		msg, ok := messages[e.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %s", e.Tag())
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
