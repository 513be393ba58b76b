package services

import (
	"errors"
	"fmt"

	"github.com/flagpole-io/flagpole/internal/store"
	"github.com/flagpole-io/flagpole/internal/validation"
)

// ValidationError is returned when a request is invalid. It carries field-level details.
type ValidationError = validation.Error

var (
	// ErrInvalidCredentials is returned when a login or token is not valid.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// NotFoundError is returned when a referenced resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Could not find %s with id %q", e.Resource, e.ID)
}

// NameExistsError is returned when creating a resource whose name is taken.
type NameExistsError struct {
	Resource string
	Name     string
}

func (e *NameExistsError) Error() string {
	return fmt.Sprintf("A %s with the name %q already exists", e.Resource, e.Name)
}

// OperationDeniedError is returned when a request is well-formed but breaks a business rule.
type OperationDeniedError struct {
	Message string
}

func (e *OperationDeniedError) Error() string {
	return e.Message
}

func notFound(resource string, id interface{}) error {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

func nameExists(resource, name string) error {
	return &NameExistsError{Resource: resource, Name: name}
}

func denied(format string, args ...interface{}) error {
	return &OperationDeniedError{Message: fmt.Sprintf(format, args...)}
}

// orNotFound converts store.ErrNotFound into a NotFoundError for the resource.
func orNotFound(err error, resource string, id interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFound(resource, id)
	}
	return err
}

// orExists converts store.ErrConflict into a NameExistsError for the resource.
func orExists(err error, resource, name string) error {
	if errors.Is(err, store.ErrConflict) {
		return nameExists(resource, name)
	}
	return err
}
