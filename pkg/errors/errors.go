package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnreachable     Code = "UNREACHABLE"
	CodeRejected        Code = "REJECTED"
	CodeInvalidResponse Code = "INVALID_RESPONSE"
	CodeTimeout         Code = "TIMEOUT"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeInternal        Code = "INTERNAL_ERROR"
)

type Metadata struct {
	Retryable     bool
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeUnreachable: {
		Retryable:     true,
		PublicMessage: "could not reach the store, check your connection or try again shortly",
	},
	CodeRejected: {
		Retryable:     false,
		PublicMessage: "the request could not be completed",
	},
	CodeInvalidResponse: {
		Retryable:     true,
		PublicMessage: "the store returned an unexpected response",
	},
	CodeTimeout: {
		Retryable:     true,
		PublicMessage: "the request took too long, please try again",
	},
	CodeValidation: {
		Retryable:     false,
		PublicMessage: "invalid input",
	},
	CodeInternal: {
		Retryable:     false,
		PublicMessage: "something went wrong",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Error is the failure value returned by every client component. Status is the
// HTTP status the server answered with, or 0 when no response was received.
type Error struct {
	code    Code
	message string
	status  int
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Status() int {
	if e == nil {
		return 0
	}
	return e.status
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithStatus(status int) *Error {
	if e == nil {
		return nil
	}
	e.status = status
	return e
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.status > 0 {
		return fmt.Sprintf("%s (%d): %s", e.code, e.status, e.message)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code carried by err, CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return As(err).Code()
}

// StatusOf returns the HTTP status carried by err, 0 when there is none.
func StatusOf(err error) int {
	return As(err).Status()
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.code == code
}

// IsUnauthorized reports a server rejection caused by a missing or invalid identity.
func IsUnauthorized(err error) bool {
	return Is(err, CodeRejected) && StatusOf(err) == http.StatusUnauthorized
}

// IsNotFound reports a server rejection for an absent resource.
func IsNotFound(err error) bool {
	return Is(err, CodeRejected) && StatusOf(err) == http.StatusNotFound
}

// PublicMessage returns the text a UI should show for err: the server message
// for rejections and validation failures, the code's public message otherwise.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).PublicMessage
	}
	switch typed.code {
	case CodeRejected, CodeValidation:
		if typed.message != "" {
			return typed.message
		}
	}
	return MetadataFor(typed.code).PublicMessage
}
