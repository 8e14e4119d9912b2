package service

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a service failure with a message safe to show to callers. It
// matches one of the sentinel errors with errors.Is.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func notFound(resource string) error {
	return &Error{Kind: ErrNotFound, Message: resource + " not found"}
}

func invalidInput(err error, format string, args ...interface{}) error {
	return &Error{Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...), Err: err}
}

func unauthorized(message string) error {
	return &Error{Kind: ErrUnauthorized, Message: message}
}

// lookup maps a missing row to a not-found error for resource.
func lookup(err error, resource string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(resource)
	}
	return err
}
