// Package validation checks request bodies against their struct tags with go-playground/validator and
// reports failures as field-level details.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/flagpole-io/flagpole/internal/model"
)

var (
	validate     *validator.Validate //nolint:gochecknoglobals
	validateOnce sync.Once           //nolint:gochecknoglobals

	urlSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_.~]+$`) //nolint:gochecknoglobals
)

// FieldError describes one invalid field. Path uses the JSON field names, e.g.
// "constraints[0].operator".
type FieldError struct {
	Path        string `json:"path"`
	Description string `json:"description"`
}

// Error is returned when a request body is invalid.
type Error struct {
	Message string
	Details []FieldError
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Details))
	for _, d := range e.Details {
		parts = append(parts, d.Description)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// NewError creates an Error with a single detail.
func NewError(path, description string) *Error {
	return &Error{
		Message: "Request validation failed",
		Details: []FieldError{{Path: path, Description: description}},
	}
}

// NewErrorf is like NewError with a formatted description.
func NewErrorf(path, format string, args ...interface{}) *Error {
	return NewError(path, fmt.Sprintf(format, args...))
}

// GetValidator returns the shared validator instance, creating it on first use.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
		_ = v.RegisterValidation("urlsafe", func(fl validator.FieldLevel) bool {
			return urlSafeRegex.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
			return model.Operator(fl.Field().String()).IsValid()
		})
		validate = v
	})
	return validate
}

// Struct validates s, returning nil or an *Error.
func Struct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &Error{Message: err.Error()}
	}
	ret := &Error{Message: "Request validation failed"}
	for _, fe := range fieldErrs {
		ret.Details = append(ret.Details, FieldError{
			Path:        fieldPath(fe),
			Description: describe(fe),
		})
	}
	return ret
}

// IsURLSafe reports whether s is a valid name for a resource that appears in URLs.
func IsURLSafe(s string) bool {
	return urlSafeRegex.MatchString(s)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

var messages = map[string]string{ //nolint:gochecknoglobals
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"urlsafe":  "%s must be URL friendly",
	"operator": "%s must be a known constraint operator",
}

var messagesWithParam = map[string]string{ //nolint:gochecknoglobals
	"oneof": "%s must be one of: %s",
	"gte":   "%s must be greater than or equal to %s",
	"lte":   "%s must be less than or equal to %s",
}

func describe(fe validator.FieldError) string {
	path := fieldPath(fe)
	if tmpl, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, path)
	}
	if tmpl, ok := messagesWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(tmpl, path, fe.Param())
	}
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "min":
		if isString {
			return fmt.Sprintf("%s must be at least %s characters", path, fe.Param())
		}
		if fe.Kind() == reflect.Slice || fe.Kind() == reflect.Map {
			return fmt.Sprintf("%s must contain at least %s items", path, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s", path, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%s must be at most %s characters", path, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", path, fe.Tag())
}
