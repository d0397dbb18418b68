// Package validation checks request payloads against the account, circle and
// location rules shared with the mobile client.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	usernamePattern   = regexp.MustCompile(`^([a-zA-Z0-9_]+\.)*[a-zA-Z0-9_]+$`)
	alphanumeric      = regexp.MustCompile(`[a-zA-Z0-9]`)
	personNamePattern = regexp.MustCompile(`^[a-zA-Z -]+$`)
	digitsPattern     = regexp.MustCompile(`^[0-9]+$`)
)

const passwordSpecials = "!@#$%^&*"

// MaxPasswordBytes is the longest password bcrypt can hash
const MaxPasswordBytes = 72

// Error is returned when a payload fails validation. Fields maps the JSON
// field name to a human readable message.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator wraps a configured go-playground validator
type Validator struct {
	v *validator.Validate
}

// New creates a validator with the custom tags registered
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	mustRegister(v, "password", func(fl validator.FieldLevel) bool {
		return PasswordProblem(fl.Field().String()) == ""
	})
	mustRegister(v, "username", func(fl validator.FieldLevel) bool {
		return UsernameProblem(fl.Field().String()) == ""
	})
	mustRegister(v, "personname", func(fl validator.FieldLevel) bool {
		return personNamePattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	mustRegister(v, "digits", func(fl validator.FieldLevel) bool {
		return digitsPattern.MatchString(fl.Field().String())
	})

	return &Validator{v: v}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// Struct validates s and returns *Error on failure
func (v *Validator) Struct(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Error{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out.Fields[field]; seen {
			continue
		}
		out.Fields[field] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is not a valid email"
	case "password":
		return PasswordProblem(fmt.Sprint(fe.Value()))
	case "username":
		return UsernameProblem(fmt.Sprint(fe.Value()))
	case "personname":
		return "is not a valid name"
	case "digits":
		return "must contain only numbers"
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte", "lte":
		return "is out of range"
	case "uuid4", "uuid":
		return "is not a valid id"
	case "oneof":
		return "must be one of " + fe.Param()
	case "dive":
		return "contains an invalid element"
	default:
		return "is invalid"
	}
}

// PasswordProblem returns the first unmet password rule, or "" when the
// password is strong enough
func PasswordProblem(p string) string {
	if len([]rune(p)) < 10 {
		return "must be at least 10 characters"
	}
	// bcrypt only accepts 72 bytes
	if len(p) > MaxPasswordBytes {
		return fmt.Sprintf("must be at most %d bytes", MaxPasswordBytes)
	}

	var lower, upper, digit, special bool
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}

	switch {
	case !lower:
		return "is missing a lowercase letter"
	case !upper:
		return "is missing an uppercase letter"
	case !digit:
		return "is missing a number"
	case !special:
		return "is missing a special character (" + passwordSpecials + ")"
	}
	return ""
}

// UsernameProblem returns why a username is rejected, or "" when it is valid
func UsernameProblem(u string) string {
	switch {
	case len(u) < 3:
		return "is too short"
	case len(u) > 20:
		return "is too long"
	case !usernamePattern.MatchString(u) || !alphanumeric.MatchString(u):
		return "may contain letters, numbers, underscores and single dots"
	}
	return ""
}

// TitleName trims a person name and upper-cases the first letter of each word
func TitleName(s string) string {
	s = strings.TrimSpace(s)
	out := []rune(s)
	start := true
	for i, r := range out {
		if r == ' ' || r == '-' {
			start = true
			continue
		}
		if start {
			out[i] = unicode.ToUpper(r)
		}
		start = false
	}
	return string(out)
}
