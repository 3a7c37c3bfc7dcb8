package validator

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator with the contract-service rules.
type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	validate := validator.New()

	v := &Validator{validate: validate}
	v.registerRules()

	return v
}

// Validate validates a struct and converts failures into ValidationErrors.
func (v *Validator) Validate(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		if fieldErrors, ok := err.(validator.ValidationErrors); ok {
			return ToValidationErrors(fieldErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

func (v *Validator) registerRules() {
	// OTP codes are exactly six digits, leading zeros allowed.
	v.validate.RegisterValidation("otp_code", func(fl validator.FieldLevel) bool {
		code := fl.Field().String()
		if len(code) != 6 {
			return false
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	})

	// Consent text must carry an actual acknowledgement, not filler.
	v.validate.RegisterValidation("consent_text", func(fl validator.FieldLevel) bool {
		text := fl.Field().String()
		return len(text) >= 10 && len(text) <= 2000
	})
}

// ValidationError describes a single failed field rule.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// ToValidationErrors converts library field errors into the typed form.
func ToValidationErrors(fieldErrors validator.ValidationErrors) ValidationErrors {
	errors := make(ValidationErrors, 0, len(fieldErrors))
	for _, err := range fieldErrors {
		errors = append(errors, ValidationError{
			Field:   err.Field(),
			Message: messageFor(err),
			Value:   err.Value(),
			Rule:    err.Tag(),
		})
	}
	return errors
}

func messageFor(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "otp_code":
		return "must be a 6-digit numeric code"
	case "consent_text":
		return "must be between 10 and 2000 characters"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", err.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", err.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", err.Param())
	default:
		return fmt.Sprintf("failed rule %s", err.Tag())
	}
}
