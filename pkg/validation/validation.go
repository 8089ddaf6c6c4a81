// Package validation wraps go-playground/validator and reports the first
// failing field as an invalid_input domain error.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	dErrors "hireloop/pkg/domain-errors"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("secret", func(fl validator.FieldLevel) bool {
		return SecretPolicyError(fl.Field().String()) == ""
	})
	return v
}

// Validate validates a struct and returns an invalid_input domain error.
func Validate(req any) error {
	if err := defaultValidator.Struct(req); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, ErrorMessage(err))
	}
	return nil
}

// Secret policy bounds. bcrypt ignores bytes past 72.
const (
	MinSecretLength = 8
	MaxSecretBytes  = 72
)

// SecretPolicyError returns a description of why secret is too weak, or ""
// when it is acceptable.
func SecretPolicyError(secret string) string {
	if len([]rune(secret)) < MinSecretLength {
		return fmt.Sprintf("password must be at least %d characters", MinSecretLength)
	}
	if len(secret) > MaxSecretBytes {
		return fmt.Sprintf("password must be at most %d bytes", MaxSecretBytes)
	}
	var letter, digit bool
	for _, r := range secret {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return "password must contain at least one letter and one digit"
	}
	return ""
}

// ErrorMessage converts a validator error into a human-readable message.
func ErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return "invalid request body"
	}

	fe := validationErrs[0]
	field := fe.Field()
	if field == "" {
		field = strings.ToLower(fe.StructField())
	}

	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid uuid", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	case "secret":
		if msg := SecretPolicyError(fmt.Sprint(fe.Value())); msg != "" {
			return msg
		}
		return fmt.Sprintf("%s is invalid", field)
	default:
		if field == "" {
			return "invalid request body"
		}
		return fmt.Sprintf("%s is invalid", field)
	}
}
