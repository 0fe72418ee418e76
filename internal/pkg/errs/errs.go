package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"rtgateway/internal/pkg/logx"
)

// CustomError is the error value handed to clients.
type CustomError struct {
	// Code is the business error code (see the constants in error_codes.go).
	Code int

	// Message is the user-facing description.
	Message string

	// Status is the HTTP status used when the error is returned over REST.
	Status int
}

// Error implements the error interface.
func (e CustomError) Error() string {
	return fmt.Sprintf("error code %d (HTTP %d): %s", e.Code, e.Status, e.Message)
}

// Coder is implemented by internal errors that know which client code they
// map to. FromError uses it to translate without this package importing the
// packages that define those errors.
type Coder interface {
	ErrorCode() int
}

// NewError builds a *CustomError for code. When the message template has a
// placeholder, details are used as its printf arguments. For ErrUnknown the
// first detail, if it is an error, is logged instead. Unknown codes fall back
// to ErrUnknown.
func NewError(code int, details ...any) *CustomError {
	templateErr, ok := errorMap[code]
	if !ok {
		logx.Error(
			fmt.Errorf("no entry for error code %d", code),
			"unknown error code requested",
			"requested_code", code,
		)

		unknown := errorMap[ErrUnknown]
		return &unknown
	}

	customErr := templateErr
	if customErr.Status == 0 {
		customErr.Status = http.StatusBadRequest
	}

	switch {
	case len(details) == 0:
	case code == ErrUnknown:
		if cause, ok := details[0].(error); ok {
			logx.Error(cause, "handling ErrUnknown with underlying error")
		}
	case strings.Contains(customErr.Message, "%"):
		customErr.Message = fmt.Sprintf(customErr.Message, details...)
	default:
		logx.Warn("error details ignored: message has no placeholder", "code", code)
	}

	return &customErr
}

// FromError converts any error into a client-facing *CustomError.
// A *CustomError in the chain is returned as is; otherwise the first Coder
// in the chain decides the code; anything else becomes ErrUnknown.
func FromError(err error) *CustomError {
	if err == nil {
		return nil
	}

	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}

	var coder Coder
	if errors.As(err, &coder) {
		return NewError(coder.ErrorCode())
	}

	return NewError(ErrUnknown, err)
}
