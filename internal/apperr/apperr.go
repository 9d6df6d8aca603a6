// Package apperr holds the error kinds shared by every layer of the store.
// Domain packages declare their own sentinels on top of these kinds so that
// handlers can map any error to a status code with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrAuthentication  = errors.New("authentication error")
	ErrAuthorization   = errors.New("authorization error")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrConfiguration   = errors.New("configuration error")
	ErrPaymentProvider = errors.New("payment provider error")
)

// Error is a message tagged with one of the kinds above.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// New returns an error of the given kind. The result is comparable with
// errors.Is both against itself and against kind.
func New(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Validation(format string, args ...any) error {
	return New(ErrValidation, fmt.Sprintf(format, args...))
}

func PaymentProvider(format string, args ...any) error {
	return New(ErrPaymentProvider, fmt.Sprintf(format, args...))
}

// Kind reports which of the shared kinds err carries, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrValidation,
		ErrAuthentication,
		ErrAuthorization,
		ErrNotFound,
		ErrConflict,
		ErrConfiguration,
		ErrPaymentProvider,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
