package config

import (
	"fmt"
)

// ErrorType classifies configuration errors
type ErrorType string

const (
	ErrorTypeFormat     ErrorType = "format_error"     // value present but unparsable
	ErrorTypeValidation ErrorType = "validation_error" // value missing or out of range
	ErrorTypeFile       ErrorType = "file_error"       // env or credentials file unreadable
)

// Error is a single configuration problem
type Error struct {
	Type    ErrorType
	Message string
	Field   string
	Value   interface{}
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("config %s: %s", e.Type, e.Message)
	if e.Field != "" {
		msg = fmt.Sprintf("config %s: %s %s", e.Type, e.Field, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// NewErrorWithField creates a configuration error for a specific variable
func NewErrorWithField(errType ErrorType, field, message string, value interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// NewErrorWithCause creates a configuration error wrapping err
func NewErrorWithCause(errType ErrorType, field, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Field:   field,
		Err:     err,
	}
}
