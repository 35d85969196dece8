package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return "validation failed"
	}
	return err.Err.Error()
}

func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Resource string
}

func NewNotFoundError(resource string) error {
	return &NotFoundError{Resource: resource}
}

func (err NotFoundError) Error() string {
	return err.Resource + " not found"
}

func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// StorageError wraps an infrastructure failure of the underlying store.
// Operations failing with a StorageError are safe to retry as a whole.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&StorageError{Op: op, Err: err})
}

func (err StorageError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err StorageError) Unwrap() error { return err.Err }

func IsStorage(err error) bool {
	var sErr *StorageError
	return errors.As(err, &sErr)
}
