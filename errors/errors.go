// Package errors provides standardized error handling for sigstreams
// devices and logic objects. It includes error classification, standard
// error variables, and helper functions for consistent error wrapping
// across the system.
package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorConnection represents errors establishing or keeping backend connectivity
	ErrorConnection ErrorClass = iota
	// ErrorTimeout represents set/wait/connect deadlines being exceeded
	ErrorTimeout
	// ErrorConfiguration represents invalid trigger modes or parameter combinations,
	// raised eagerly before any hardware interaction
	ErrorConfiguration
	// ErrorHardware represents device-side faults reported by a backend
	ErrorHardware
	// ErrorCancelled represents operations cancelled via a scoped status or explicit cancel
	ErrorCancelled
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorConnection:
		return "connection"
	case ErrorTimeout:
		return "timeout"
	case ErrorConfiguration:
		return "configuration"
	case ErrorHardware:
		return "hardware"
	case ErrorCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Connection errors
	ErrNotConnected      = errors.New("signal not connected")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrDatatypeMismatch  = errors.New("backend rejected datatype")
	ErrModeMismatch      = errors.New("mock/real mode changed between connects")

	// Timeout errors
	ErrTimeout = errors.New("deadline exceeded")

	// Configuration errors
	ErrUnsupportedTrigger = errors.New("unsupported trigger mode")
	ErrInvalidTriggerInfo = errors.New("invalid trigger info")
	ErrInvalidState       = errors.New("verb not valid in current state")
	ErrUnnamedSignal      = errors.New("signal must be named")

	// Hardware errors
	ErrHardwareFault = errors.New("backend reported device fault")

	// Cancellation
	ErrCancelled = errors.New("operation cancelled")
)

// ClassifiedError wraps an error with its classification and the
// device/signal path that caused it.
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// classOf returns the class of err, or ok=false if it carries none.
func classOf(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	return 0, false
}

// IsConnection checks if an error is a connectivity failure
func IsConnection(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorConnection
	}
	var nc *NotConnectedError
	if errors.As(err, &nc) {
		return true
	}
	return errors.Is(err, ErrNotConnected) ||
		errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrDatatypeMismatch) ||
		errors.Is(err, ErrModeMismatch)
}

// IsTimeout checks if an error is a deadline failure
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorTimeout
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsConfiguration checks if an error is an invalid configuration, caught
// before any hardware interaction
func IsConfiguration(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorConfiguration
	}
	return errors.Is(err, ErrUnsupportedTrigger) ||
		errors.Is(err, ErrInvalidTriggerInfo) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrUnnamedSignal)
}

// IsHardware checks if an error is a device-side fault
func IsHardware(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorHardware
	}
	return errors.Is(err, ErrHardwareFault)
}

// IsCancelled checks if an error is a cancellation
func IsCancelled(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := classOf(err); ok {
		return class == ErrorCancelled
	}
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Classify returns the error class for an error. Unknown errors classify
// as hardware faults so they surface rather than being retried silently.
func Classify(err error) ErrorClass {
	if class, ok := classOf(err); ok {
		return class
	}
	switch {
	case IsConnection(err):
		return ErrorConnection
	case IsTimeout(err):
		return ErrorTimeout
	case IsConfiguration(err):
		return ErrorConfiguration
	case IsCancelled(err):
		return ErrorCancelled
	default:
		return ErrorHardware
	}
}

// newClassified creates a new classified error.
// This is an internal helper - use the WrapX functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapConnection wraps an error as a connection failure with context
func WrapConnection(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConnection, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTimeout wraps an error as a deadline failure with context
func WrapTimeout(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTimeout, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConfiguration wraps an error as a configuration failure with context
func WrapConfiguration(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConfiguration, wrappedErr, component, method, wrappedErr.Error())
}

// WrapHardware wraps an error as a device-side fault with context
func WrapHardware(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorHardware, wrappedErr, component, method, wrappedErr.Error())
}

// WrapCancelled wraps an error as a cancellation with context
func WrapCancelled(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorCancelled, wrappedErr, component, method, wrappedErr.Error())
}

// NotConnectedError aggregates connection failures from a fan-out device
// connect. It maps device/signal paths to the error each one raised, so a
// user sees every unreachable signal rather than just the first.
type NotConnectedError struct {
	errs map[string]error
}

// NewNotConnected creates an empty aggregate connection error.
func NewNotConnected() *NotConnectedError {
	return &NotConnectedError{errs: make(map[string]error)}
}

// Add records a failure for the given device/signal path.
func (nc *NotConnectedError) Add(path string, err error) {
	nc.errs[path] = err
}

// Len returns the number of failing paths.
func (nc *NotConnectedError) Len() int {
	return len(nc.errs)
}

// Errors returns the per-path failures.
func (nc *NotConnectedError) Errors() map[string]error {
	return nc.errs
}

// OrNil returns nil when no failures were recorded, otherwise nc.
func (nc *NotConnectedError) OrNil() error {
	if len(nc.errs) == 0 {
		return nil
	}
	return nc
}

// Paths returns the failing paths in sorted order.
func (nc *NotConnectedError) Paths() []string {
	paths := make([]string, 0, len(nc.errs))
	for path := range nc.errs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

const indentWidth = "    "

// Error implements the error interface with one indented line per
// failing path; nested NotConnectedErrors indent a further level.
func (nc *NotConnectedError) Error() string {
	return nc.format("")
}

func (nc *NotConnectedError) format(indent string) string {
	var sb strings.Builder
	sb.WriteString("\n")
	for _, path := range nc.Paths() {
		err := nc.errs[path]
		var nested *NotConnectedError
		if errors.As(err, &nested) {
			sb.WriteString(fmt.Sprintf("%s%s: NotConnected:%s", indent, path, nested.format(indent+indentWidth)))
		} else {
			sb.WriteString(fmt.Sprintf("%s%s: %s\n", indent, path, err.Error()))
		}
	}
	return sb.String()
}
