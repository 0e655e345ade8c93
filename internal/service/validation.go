package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/sma-progress-api/internal/models"
	appErrors "github.com/noah-isme/sma-progress-api/pkg/errors"
)

// NewValidator returns a validator with the record tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	registerRecordValidations(v)
	return v
}

func registerRecordValidations(v *validator.Validate) {
	_ = v.RegisterValidation("record_type", func(fl validator.FieldLevel) bool {
		return models.RecordType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("record_note", func(fl validator.FieldLevel) bool {
		return models.ValidNote(fl.Field().String())
	})
	_ = v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		return models.UserRole(fl.Field().String()).Valid()
	})
}

// validationError turns validator output into a ValidationError whose message
// names the first offending field.
func validationError(err error, fallback string) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return appErrors.WrapAs(err, appErrors.ErrValidation, fallback)
	}
	return appErrors.WrapAs(err, appErrors.ErrValidation, fieldMessage(verrs[0]))
}

func fieldMessage(fe validator.FieldError) string {
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "record_type":
		names := make([]string, len(models.RecordTypes))
		for i, t := range models.RecordTypes {
			names[i] = string(t)
		}
		return fmt.Sprintf("%s must be one of %s", field, strings.Join(names, ", "))
	case "record_note":
		return fmt.Sprintf("%s must be at most %d characters", field, models.MaxNoteLength)
	case "user_role":
		return fmt.Sprintf("%s is not a known role", field)
	case "min", "max":
		if field == "value" {
			return fmt.Sprintf("value must be between %d and %d", models.MinRecordValue, models.MaxRecordValue)
		}
		return fmt.Sprintf("%s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
