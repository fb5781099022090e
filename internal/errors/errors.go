package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType int

const (
	// Configuration errors - missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// Connection errors - the store cannot be reached
	ErrorTypeConnection
	// Statement errors - the store rejected an operation (syntax or semantics)
	ErrorTypeStatement
	// Partial errors - chunked submission stopped after some chunks were applied
	ErrorTypePartial
	// Introspection errors - a job-status query failed
	ErrorTypeIntrospection
	// Timeout errors - a bounded wait gave up
	ErrorTypeTimeout
	// FileSystem errors - file I/O failures (plan files, TSV inputs, local state)
	ErrorTypeFileSystem
	// Internal errors - unexpected internal state
	ErrorTypeInternal
)

// Severity represents how critical an error is
type Severity int

const (
	// SeverityLow - logged, the flow continues
	SeverityLow Severity = iota
	// SeverityMedium - logged, the caller decides
	SeverityMedium
	// SeverityHigh - significant issue, may impact the run
	SeverityHigh
	// SeverityCritical - stops the run
	SeverityCritical
)

// Sentinels for errors.Is. Matching is by Type only.
var (
	ErrStoreUnavailable  = &Error{Type: ErrorTypeConnection, Message: "store unavailable"}
	ErrStatementRejected = &Error{Type: ErrorTypeStatement, Message: "statement rejected"}
	ErrPartialFailure    = &Error{Type: ErrorTypePartial, Message: "partial failure"}
	ErrIntrospection     = &Error{Type: ErrorTypeIntrospection, Message: "introspection failed"}
	ErrTimeoutExceeded   = &Error{Type: ErrorTypeTimeout, Message: "timeout exceeded"}
	ErrConfig            = &Error{Type: ErrorTypeConfig, Message: "invalid configuration"}
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is checks if this error matches the target error type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// IsFatal returns true if this error should stop execution
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString returns a detailed error message with context
func (e *Error) DetailedString() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "[%s] [%s] %s\n", e.Severity, e.Type, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&sb, "Caused by: %v\n", e.Cause)
	}

	if len(e.Context) > 0 {
		sb.WriteString("Context:\n")
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, e.Context[k])
		}
	}

	if e.StackTrace != "" {
		fmt.Fprintf(&sb, "Stack trace:\n%s", e.StackTrace)
	}

	return sb.String()
}

// String returns the upper-case tag used in logs and ledger rows
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypeConnection:
		return "CONNECTION"
	case ErrorTypeStatement:
		return "STATEMENT"
	case ErrorTypePartial:
		return "PARTIAL"
	case ErrorTypeIntrospection:
		return "INTROSPECTION"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeFileSystem:
		return "FILESYSTEM"
	case ErrorTypeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// String returns the upper-case severity tag
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// captureStackTrace captures the current stack trace
func captureStackTrace(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		fmt.Fprintf(&sb, "  %s:%d %s\n", file, line, fn.Name())
	}
	return sb.String()
}

// New creates a new error with the given type, severity, and message
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		Context:    make(map[string]interface{}),
		StackTrace: captureStackTrace(2),
	}
}

// Convenience constructors for the store taxonomy

// ConfigErrorf creates a configuration error with formatting
func ConfigErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeConfig, SeverityCritical, fmt.Sprintf(format, args...))
}

// StoreUnavailable wraps a failure to reach the store
func StoreUnavailable(err error, message string) *Error {
	return Wrap(err, ErrorTypeConnection, SeverityCritical, message)
}

// StatementRejectedf wraps a store rejection of one or more operations
func StatementRejectedf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return New(ErrorTypeStatement, SeverityMedium, fmt.Sprintf(format, args...))
	}
	return Wrap(err, ErrorTypeStatement, SeverityMedium, fmt.Sprintf(format, args...))
}

// PartialFailuref wraps a connection loss after some chunks were applied
func PartialFailuref(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypePartial, SeverityCritical, fmt.Sprintf(format, args...))
}

// IntrospectionError wraps a failed job-status query
func IntrospectionError(err error, message string) *Error {
	return Wrap(err, ErrorTypeIntrospection, SeverityLow, message)
}

// TimeoutExceededf reports a bounded wait that gave up
func TimeoutExceededf(format string, args ...interface{}) *Error {
	return New(ErrorTypeTimeout, SeverityLow, fmt.Sprintf(format, args...))
}

// FileSystemErrorf wraps a filesystem error with formatting
func FileSystemErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeFileSystem, SeverityHigh, fmt.Sprintf(format, args...))
}

// IsFatal checks if an error is fatal (should stop execution)
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if As(err, &e) {
		return e.IsFatal()
	}

	return false
}

// GetType returns the type of an error
func GetType(err error) ErrorType {
	if err == nil {
		return ErrorTypeInternal
	}

	var e *Error
	if As(err, &e) {
		return e.Type
	}

	return ErrorTypeInternal
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
