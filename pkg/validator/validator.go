// Package validator wraps go-playground/validator so that failures come back
// as per-field details in the wire error format.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Skotchmaster/blytz_client/pkg/transport"
)

var ErrInvalid = errors.New("invalid input")

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()

	// report json names, not Go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	return &Validator{validate: v}
}

// Validate satisfies echo.Validator as well.
func (v *Validator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return &Error{Details: details(verrs)}
	}
	return err
}

// Error carries one detail per failed field.
type Error struct {
	Details []transport.ErrorDetail
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

func details(errs validator.ValidationErrors) []transport.ErrorDetail {
	out := make([]transport.ErrorDetail, 0, len(errs))
	for _, fe := range errs {
		field := fe.Field()
		var msg string
		switch fe.Tag() {
		case "required":
			msg = fmt.Sprintf("%s is required", field)
		case "email":
			msg = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			msg = fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		case "oneof":
			msg = fmt.Sprintf("%s must be one of: %s", field, fe.Param())
		case "e164":
			msg = fmt.Sprintf("%s must be a phone number in international format", field)
		case "url":
			msg = fmt.Sprintf("%s must be a valid URL", field)
		default:
			msg = fmt.Sprintf("%s failed validation for %s", field, fe.Tag())
		}
		out = append(out, transport.ErrorDetail{Field: field, Message: msg})
	}
	return out
}
