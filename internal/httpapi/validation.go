package httpapi

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"excisepos/backend/internal/domain"
)

// ValidationDetail names one rejected request field.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// requestError is a rejected request body with per-field details.
type requestError struct {
	details []ValidationDetail
}

func (e *requestError) Error() string {
	parts := make([]string, 0, len(e.details))
	for _, d := range e.details {
		parts = append(parts, d.Field+": "+d.Message)
	}
	return "request validation failed: " + strings.Join(parts, "; ")
}

func (e *requestError) Unwrap() error {
	return domain.ErrInvalidInput
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validateRequest(v *validator.Validate, req any) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	details := make([]ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, ValidationDetail{Field: fe.Field(), Message: validationMessage(fe)})
	}
	return &requestError{details: details}
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "This field is required"
	case "min":
		if e.Type().Kind() == reflect.String {
			return "Must be at least " + e.Param() + " characters"
		}
		return "Must be at least " + e.Param()
	case "max":
		if e.Type().Kind() == reflect.String {
			return "Must be at most " + e.Param() + " characters"
		}
		return "Must be at most " + e.Param()
	case "datetime":
		return "Must be a date formatted as " + e.Param()
	default:
		return "Invalid value"
	}
}
