package usecase

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 30
	minPasswordLength = 8
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Field errors are keyed by the JSON name the client sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// registration mirrors the rules every stored account satisfies.
type registration struct {
	Username string `json:"username" validate:"min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"min=8"`
}

// fieldMessage turns a validator tag failure into a client-facing message.
func fieldMessage(field, tag string) string {
	switch field {
	case "username":
		return fmt.Sprintf("Length must be between %d and %d.", minUsernameLength, maxUsernameLength)
	case "email":
		return "Not a valid email address."
	case "password":
		return fmt.Sprintf("Shorter than minimum length %d.", minPasswordLength)
	}
	return "Invalid value (" + tag + ")."
}

func validateRegistration(username, email, password string) error {
	fields := map[string]string{}
	if err := validate.Struct(registration{Username: username, Email: email, Password: password}); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fe.Field()] = fieldMessage(fe.Field(), fe.Tag())
		}
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// validateUpdate checks only the fields that are present.
func validateUpdate(in ProfileUpdate) error {
	fields := map[string]string{}
	check := func(name string, value *string, tag string) {
		if value == nil {
			return
		}
		if err := validate.Var(*value, tag); err != nil {
			fields[name] = fieldMessage(name, tag)
		}
	}
	check("username", in.Username, fmt.Sprintf("min=%d,max=%d", minUsernameLength, maxUsernameLength))
	check("email", in.Email, "required,email")
	check("password", in.Password, fmt.Sprintf("min=%d", minPasswordLength))
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email"); err != nil {
		return &ValidationError{Fields: map[string]string{"email": fieldMessage("email", "email")}}
	}
	return nil
}

// canonicalEmail trims and lower-cases an address so uniqueness is case-insensitive.
func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
