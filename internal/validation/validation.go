package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json field names so messages match the request body.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Struct validates s and returns a single human-readable error, or nil.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	if msgs := FormatValidationError(err); len(msgs) > 0 {
		return errors.New(strings.Join(msgs, "; "))
	}
	return err
}

func FormatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			field := e.Field()

			switch e.Tag() {
			case "required":
				errs = append(errs, fmt.Sprintf("%s is required", field))
			case "numeric":
				errs = append(errs, fmt.Sprintf("%s must contain only digits", field))
			case "len":
				errs = append(errs, fmt.Sprintf("%s must be exactly %s characters", field, e.Param()))
			case "min":
				errs = append(errs, fmt.Sprintf("%s must have at least %s item(s)", field, e.Param()))
			case "max":
				errs = append(errs, fmt.Sprintf("%s must be at most %s characters", field, e.Param()))
			default:
				errs = append(errs, fmt.Sprintf("%s is invalid (%s)", field, e.Tag()))
			}
		}
	}
	return errs
}
