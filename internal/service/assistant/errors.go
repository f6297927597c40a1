package assistant

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	ErrorValidation ErrorCode = "VALIDATION"
	ErrorUpstream   ErrorCode = "UPSTREAM"
	ErrorDelivery   ErrorCode = "DELIVERY"
	ErrorInternal   ErrorCode = "INTERNAL"
)

var ErrValidation = errors.New("validation failed")

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("assistant: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("assistant: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf classifies err, defaulting to INTERNAL.
func CodeOf(err error) ErrorCode {
	var e *Error
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Code
	case errors.Is(err, ErrValidation):
		return ErrorValidation
	}
	return ErrorInternal
}
