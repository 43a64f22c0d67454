// Package errors provides centralized error definitions and error handling utilities
// for macroexpand. It defines the error taxonomy used across the expansion pipeline,
// error constructors with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain errors map onto the four failure classes of an expansion request:
//   - DiscoveryError: no crate directory or package name could be found
//   - ValidationError: no active document, or the document is not a Rust source
//   - ExecutionError: the external expansion tool failed to spawn or exited non-zero
//   - ResourceError: a workspace, artifact or registry file could not be written or removed
//
// NotFoundError is used for lookups of sessions and other tracked resources.
//
// # Usage
//
//	err := errors.NewDiscoveryError("no Cargo.toml found", errors.ErrNoCrate).WithPath(src)
//
//	var execErr *errors.ExecutionError
//	if errors.As(err, &execErr) {
//	    fmt.Println(execErr.ExitCode, execErr.Stderr)
//	}
//
//	if errors.IsUserFacing(err) { ... }
//
// # Propagation
//
// Discovery and validation errors are user facing and terminal for a request.
// Execution errors are converted into artifact content by the renderer and never
// abort a session. Resource errors propagate to the caller unchanged.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Discovery and validation sentinels
var (
	// ErrNoCrate indicates that no Cargo.toml was found above the source file.
	ErrNoCrate = New("no Cargo.toml found")
	// ErrNoPackageName indicates that the package name could not be parsed.
	ErrNoPackageName = New("could not parse package name from Cargo.toml")
	// ErrOutsideSrc indicates that the source file is not below <crate>/src.
	ErrOutsideSrc = New("source file is not inside the crate src directory")
	// ErrNoActiveDocument indicates that no document was supplied.
	ErrNoActiveDocument = New("no active document")
	// ErrNotRustSource indicates that the document is not a Rust source file.
	ErrNotRustSource = New("document is not a Rust (.rs) file")
)

// Session sentinels
var (
	// ErrSessionNotFound indicates that no session tracks the given source path.
	ErrSessionNotFound = New("session not found")
	// ErrSessionDisposed indicates that a session was used after disposal.
	ErrSessionDisposed = New("session disposed")
	// ErrStoreClosed indicates that the session store has been torn down.
	ErrStoreClosed = New("session store closed")
)

// Execution sentinels
var (
	// ErrToolFailed indicates that the expansion tool exited unsuccessfully.
	ErrToolFailed = New("expansion tool failed")
	// ErrToolNotStarted indicates that the expansion tool could not be spawned.
	ErrToolNotStarted = New("expansion tool could not be started")
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ClassifiedError is the base interface for all macroexpand errors.
// It extends the standard error interface with classification methods.
type ClassifiedError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Message returns the message without the cause chain.
func (e *baseError) Message() string {
	return e.message
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// DiscoveryError represents a failure to locate the crate or its package name.
//
// Example:
//
//	err := errors.NewDiscoveryError("no Cargo.toml found", errors.ErrNoCrate).WithPath("/src/x/lib.rs")
//	fmt.Println(err) // "discovery error [path=/src/x/lib.rs]: no Cargo.toml found: no Cargo.toml found"
type DiscoveryError struct {
	baseError
	Path string
}

// NewDiscoveryError creates a new DiscoveryError.
func NewDiscoveryError(message string, cause error) *DiscoveryError {
	return &DiscoveryError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithPath adds the path being resolved to the error context.
func (e *DiscoveryError) WithPath(path string) *DiscoveryError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *DiscoveryError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("discovery error", parts)
}

// ValidationError represents invalid input, such as a missing or non-Rust document.
//
// Example:
//
//	err := errors.NewValidationError("only Rust (.rs) files can be expanded").WithField("path").WithValue("main.go")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is reports ErrInvalidInput for every validation error.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ExecutionError represents a failed run of the external expansion tool.
// ExitCode is -1 when the process never produced an exit status (spawn
// failure, signal, cancellation).
//
// Example:
//
//	err := errors.NewExecutionError("cargo expand --silent", errors.ErrToolFailed).
//	    WithDir("/work/crate").WithExitCode(1).WithStderr("error: macro not found")
type ExecutionError struct {
	baseError
	Command  string
	Dir      string
	ExitCode int
	Signal   string
	Stderr   string
	TimedOut bool
}

// NewExecutionError creates a new ExecutionError for the given command.
func NewExecutionError(command string, cause error) *ExecutionError {
	return &ExecutionError{
		baseError: baseError{
			message:    "command failed",
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Command:  command,
		ExitCode: -1,
	}
}

// WithDir records the working directory of the failed command.
func (e *ExecutionError) WithDir(dir string) *ExecutionError {
	e.Dir = dir
	return e
}

// WithExitCode records the process exit status.
func (e *ExecutionError) WithExitCode(code int) *ExecutionError {
	e.ExitCode = code
	return e
}

// WithSignal records the signal that terminated the process.
func (e *ExecutionError) WithSignal(sig string) *ExecutionError {
	e.Signal = sig
	return e
}

// WithStderr records the captured diagnostic output.
func (e *ExecutionError) WithStderr(stderr string) *ExecutionError {
	e.Stderr = stderr
	return e
}

// WithTimedOut marks the error as caused by a deadline.
func (e *ExecutionError) WithTimedOut(timedOut bool) *ExecutionError {
	e.TimedOut = timedOut
	e.retryable = timedOut
	return e
}

// Status describes how the process ended, e.g. "exit status 1" or "signal: killed".
func (e *ExecutionError) Status() string {
	switch {
	case e.TimedOut:
		return "timed out"
	case e.Signal != "":
		return "signal: " + e.Signal
	case e.ExitCode >= 0:
		return fmt.Sprintf("exit status %d", e.ExitCode)
	case e.cause != nil:
		return e.cause.Error()
	default:
		return "unknown failure"
	}
}

// Error returns the formatted error message.
func (e *ExecutionError) Error() string {
	parts := []string{fmt.Sprintf("command=%q", e.Command)}
	if e.Dir != "" {
		parts = append(parts, fmt.Sprintf("dir=%s", e.Dir))
	}
	parts = append(parts, e.Status())
	msg := e.format("execution error", parts)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += "\n" + stderr
	}
	return msg
}

// Is matches the timeout and cancellation sentinels in addition to the cause chain.
func (e *ExecutionError) Is(target error) bool {
	if target == ErrTimeout {
		return e.TimedOut
	}
	return false
}

// ResourceError represents a filesystem or registry failure.
//
// Example:
//
//	err := errors.NewResourceError("create workspace", cause).WithPath(dir)
type ResourceError struct {
	baseError
	Op   string
	Path string
}

// NewResourceError creates a new ResourceError for the given operation.
func NewResourceError(op string, cause error) *ResourceError {
	return &ResourceError{
		baseError: baseError{
			message:  op,
			cause:    cause,
			severity: SeverityCritical,
		},
		Op: op,
	}
}

// WithPath adds the affected path to the error context.
func (e *ResourceError) WithPath(path string) *ResourceError {
	e.Path = path
	return e
}

// Error returns the formatted error message.
func (e *ResourceError) Error() string {
	var parts []string
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("path=%s", e.Path))
	}
	return e.format("resource error", parts)
}

// NotFoundError indicates a tracked resource is missing.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s not found", resourceType),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %q", e.ResourceType, e.ResourceID)
}

// Is matches ErrSessionNotFound for session lookups.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound && e.ResourceType == "session"
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition,
// such as a tool run that hit its deadline.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
// Discovery, validation, execution and not-found errors are user facing;
// resource errors and unclassified errors are not.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ClassifiedError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.Severity()
	}
	return SeverityError
}

// UserMessage returns the short message for a user-facing error, without the
// structured prefix. Non user-facing errors collapse to a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var disc *DiscoveryError
	if As(err, &disc) {
		return disc.Message()
	}
	var val *ValidationError
	if As(err, &val) {
		return val.Message()
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "an internal error occurred"
}

// Wrap wraps an error with additional context message.
// Unlike a bare fmt.Errorf, it returns nil for a nil error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
