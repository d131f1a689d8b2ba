// Package gudasum structured error types for better error handling
package gudasum

import (
	"errors"
	"fmt"
)

// ErrorType represents categories of errors
type ErrorType int

const (
	// Memory errors
	ErrTypeMemory ErrorType = iota
	// Invalid argument errors
	ErrTypeInvalidArg
	// Malformed contraction equations
	ErrTypeEquation
	// Operand shape errors
	ErrTypeShape
	// Execution errors
	ErrTypeExecution
	// Device errors
	ErrTypeDevice
	// Not implemented errors
	ErrTypeNotImplemented
)

// Error represents a structured error with context
type Error struct {
	Type    ErrorType
	Op      string      // Operation that failed
	Message string      // Human-readable message
	Err     error       // Underlying error if any
	Context interface{} // Additional context
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if eq, ok := e.Context.(string); ok && eq != "" {
		msg = fmt.Sprintf("%q: %s", eq, msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("gudasum %s error in %s: %s (caused by: %v)",
			e.Type.String(), e.Op, msg, e.Err)
	}
	return fmt.Sprintf("gudasum %s error in %s: %s",
		e.Type.String(), e.Op, msg)
}

// Unwrap allows error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// String returns the error type as a string
func (t ErrorType) String() string {
	switch t {
	case ErrTypeMemory:
		return "Memory"
	case ErrTypeInvalidArg:
		return "InvalidArgument"
	case ErrTypeEquation:
		return "Equation"
	case ErrTypeShape:
		return "Shape"
	case ErrTypeExecution:
		return "Execution"
	case ErrTypeDevice:
		return "Device"
	case ErrTypeNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Common error constructors

// NewMemoryError creates a memory-related error
func NewMemoryError(op string, message string, err error) error {
	return &Error{
		Type:    ErrTypeMemory,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewInvalidArgError creates an invalid argument error
func NewInvalidArgError(op string, message string) error {
	return &Error{
		Type:    ErrTypeInvalidArg,
		Op:      op,
		Message: message,
	}
}

// NewEquationError creates an error for an equation that cannot be parsed
// or contracted. The offending equation is kept as context.
func NewEquationError(op string, equation string, message string) error {
	return &Error{
		Type:    ErrTypeEquation,
		Op:      op,
		Message: message,
		Context: equation,
	}
}

// NewShapeError creates an operand shape error
func NewShapeError(op string, message string, shape []int) error {
	return &Error{
		Type:    ErrTypeShape,
		Op:      op,
		Message: message,
		Context: shape,
	}
}

// NewExecutionError creates an execution error
func NewExecutionError(op string, message string, err error) error {
	return &Error{
		Type:    ErrTypeExecution,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// NewNotImplementedError creates an error for plate structures and
// equations the contraction engine does not support.
func NewNotImplementedError(op string, message string) error {
	return &Error{
		Type:    ErrTypeNotImplemented,
		Op:      op,
		Message: message,
	}
}

// Common pre-defined errors

var (
	// ErrInvalidSize indicates invalid size parameter
	ErrInvalidSize = NewInvalidArgError("Allocate", "size must not be negative")

	// ErrDeviceClosed indicates a launch on a closed device
	ErrDeviceClosed = &Error{Type: ErrTypeDevice, Op: "Launch", Message: "device is closed"}

	// ErrInvalidDevice indicates an unknown device kind
	ErrInvalidDevice = &Error{Type: ErrTypeDevice, Op: "NewDevice", Message: "unknown device kind"}
)

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsMemoryError checks if an error is a memory error
func IsMemoryError(err error) bool { return isType(err, ErrTypeMemory) }

// IsInvalidArgError checks if an error is an invalid argument error
func IsInvalidArgError(err error) bool { return isType(err, ErrTypeInvalidArg) }

// IsEquationError checks if an error is an equation error
func IsEquationError(err error) bool { return isType(err, ErrTypeEquation) }

// IsShapeError checks if an error is a shape error
func IsShapeError(err error) bool { return isType(err, ErrTypeShape) }

// IsDeviceError checks if an error is a device error
func IsDeviceError(err error) bool { return isType(err, ErrTypeDevice) }

// IsNotImplementedError checks if an error is a not implemented error
func IsNotImplementedError(err error) bool { return isType(err, ErrTypeNotImplemented) }
