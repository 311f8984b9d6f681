package models

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks network failures and timeouts. Retryable.
	ErrTransport = errors.New("transport error")
	// ErrNotFound is returned when a location lookup finds nothing.
	ErrNotFound = errors.New("location not found")
	// ErrValidation rejects empty or malformed input before any network call.
	ErrValidation = errors.New("validation error")
	// ErrPermanentDelivery marks records that exceeded the retry ceiling.
	ErrPermanentDelivery = errors.New("permanent delivery failure")
)

// TransportError carries the channel or endpoint a network call failed on.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func NewTransportError(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
