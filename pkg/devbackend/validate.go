package devbackend

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validationError turns the first failed rule into a message fit for a
// client.
func validationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	switch fe.Tag() {
	case "notblank", "required":
		return errors.Errorf("%s is required", fe.Field())
	case "max":
		return errors.Errorf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gte", "min":
		return errors.Errorf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return errors.Errorf("%s is invalid", fe.Field())
	}
}
