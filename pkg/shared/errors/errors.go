// Package errors provides infrastructure-facing error wrapping shared across
// every PAGW component that talks to the object store, the database, the
// bus, or a payer endpoint. It complements internal/errors (the HTTP-facing
// AppError) with a plain Operation/Component/Resource/Cause shape meant for
// logs rather than API responses.
package errors

import (
	"fmt"
	"strings"
)

// OperationError describes a failed operation against an external
// dependency, optionally scoped to a component and a resource.
type OperationError struct {
	Operation string
	Component string
	Resource  string
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to %s", e.Operation)
	if e.Component != "" {
		fmt.Fprintf(&b, ", component: %s", e.Component)
	}
	if e.Resource != "" {
		fmt.Fprintf(&b, ", resource: %s", e.Resource)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ", cause: %s", e.Cause.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// FailedTo builds a plain "failed to <action>[: cause]" error.
func FailedTo(action string, cause error) error {
	if cause == nil {
		return fmt.Errorf("failed to %s", action)
	}
	return fmt.Errorf("failed to %s: %w", action, cause)
}

// FailedToWithDetails builds an *OperationError with component and resource
// context attached.
func FailedToWithDetails(operation, component, resource string, cause error) error {
	return &OperationError{
		Operation: operation,
		Component: component,
		Resource:  resource,
		Cause:     cause,
	}
}

// Wrapf prefixes err with a formatted message, returning nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// retryableSubstrings is intentionally conservative: it only flags errors
// whose text matches well-known transient conditions (timeouts, connection
// refusals, unavailable dependencies).
var retryableSubstrings = []string{
	"timeout",
	"connection refused",
	"unavailable",
	"connection reset",
	"deadline exceeded",
	"too many requests",
}

// IsRetryable does a best-effort text match for transient-looking errors.
// Stage handlers that know their error's concrete type should prefer
// internal/errors.IsRetryable; this helper exists for errors that only
// reached PAGW as opaque strings from a third-party client.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Chain joins non-nil errors into one "multiple errors: a; b; c" error, or
// returns the single error / nil when fewer than two are present.
func Chain(errs ...error) error {
	var present []string
	for _, err := range errs {
		if err != nil {
			present = append(present, err.Error())
		}
	}
	switch len(present) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s", present[0])
	default:
		return fmt.Errorf("multiple errors: %s", strings.Join(present, "; "))
	}
}
