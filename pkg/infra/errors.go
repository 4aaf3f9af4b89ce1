package infra

import (
	"errors"
	"fmt"
	"time"
)

// -----------------------------------------------------------------------------
// Public Types - Error Taxonomy
// -----------------------------------------------------------------------------

// ErrorKind categorizes an InfraError by what went wrong.
type ErrorKind string

const (
	ErrDownload            ErrorKind = "download"
	ErrInstallation        ErrorKind = "installation"
	ErrNetwork             ErrorKind = "network"
	ErrTimeout             ErrorKind = "timeout"
	ErrHealthCheck         ErrorKind = "health-check"
	ErrPrerequisiteMissing ErrorKind = "prerequisite-missing"
	ErrValidation          ErrorKind = "validation"
	ErrCancelled           ErrorKind = "cancelled"
)

// Severity determines how the retry engine treats an error: Transient errors
// are retried, Fatal errors propagate on first occurrence.
type Severity string

const (
	SeverityTransient Severity = "transient"
	SeverityFatal     Severity = "fatal"
)

// InfraError is the error type produced at every boundary of the installer
// core. Every instance names the component and phase it occurred in, a
// human-readable reason, and an actionable suggestion. Constructing one
// without a suggestion is considered incomplete.
type InfraError struct {
	Kind       ErrorKind
	Severity   Severity
	Component  Component
	Phase      InstallPhase
	Reason     string
	Suggestion string

	// Err is the wrapped cause, if any.
	Err error

	// Attempts and Elapsed are filled in by the retry engine when the
	// error survives all retry attempts.
	Attempts uint
	Elapsed  time.Duration

	// LastHealth carries the last observed health snapshot when the error
	// is a readiness timeout.
	LastHealth *HealthCheckResult
}

func (e *InfraError) Error() string {
	msg := fmt.Sprintf("%s: %s failed during %s: %s", e.Severity, e.Component, e.Phase, e.Reason)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Attempts > 1 {
		msg = fmt.Sprintf("%s (after %d attempts over %s)", msg, e.Attempts, e.Elapsed.Round(time.Millisecond))
	}
	if e.Suggestion != "" {
		msg = fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Error Taxonomy - Constructors
// -----------------------------------------------------------------------------

// Transient builds an InfraError the retry engine is allowed to retry.
func Transient(kind ErrorKind, component Component, phase InstallPhase, reason, suggestion string, cause error) *InfraError {
	return &InfraError{
		Kind:       kind,
		Severity:   SeverityTransient,
		Component:  component,
		Phase:      phase,
		Reason:     reason,
		Suggestion: suggestion,
		Err:        cause,
	}
}

// Fatal builds an InfraError that propagates on first occurrence.
func Fatal(kind ErrorKind, component Component, phase InstallPhase, reason, suggestion string, cause error) *InfraError {
	return &InfraError{
		Kind:       kind,
		Severity:   SeverityFatal,
		Component:  component,
		Phase:      phase,
		Reason:     reason,
		Suggestion: suggestion,
		Err:        cause,
	}
}

// Cancelled reports a caller-initiated interruption. It is always fatal so
// that retry loops and health polls stop immediately.
func Cancelled(component Component, phase InstallPhase, cause error) *InfraError {
	return Fatal(ErrCancelled, component, phase,
		"operation cancelled",
		"re-run the command once the interruption has been resolved",
		cause)
}

// -----------------------------------------------------------------------------
// Error Taxonomy - Classification Helpers
// -----------------------------------------------------------------------------

// AsInfraError unwraps err to the outermost *InfraError, if any.
func AsInfraError(err error) (*InfraError, bool) {
	var ie *InfraError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// IsFatal reports whether err is classified fatal. Unclassified errors are
// not fatal: the retry engine treats them as transient and classifies them
// itself before letting them propagate.
func IsFatal(err error) bool {
	if ie, ok := AsInfraError(err); ok {
		return ie.Severity == SeverityFatal
	}
	return false
}

// IsTransient reports whether err is classified transient.
func IsTransient(err error) bool {
	if ie, ok := AsInfraError(err); ok {
		return ie.Severity == SeverityTransient
	}
	return false
}
