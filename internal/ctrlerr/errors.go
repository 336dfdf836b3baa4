// Package ctrlerr defines the control plane's error taxonomy (spec §7):
// kinds, not exception class names. Every struct implements error; callers
// use errors.As/errors.Is to branch on kind rather than string matching.
package ctrlerr

import (
	"errors"
	"fmt"
)

// ConfigError covers unknown provider, missing credential, min>max, and
// similar caller-side configuration mistakes.
type ConfigError struct {
	Detail string
}

func (e ConfigError) Error() string { return fmt.Sprintf("configuration error: %s", e.Detail) }

func ErrConfig(detail string) error { return ConfigError{Detail: detail} }

// NoCapacityError means no eligible instance exists for (provider, model)
// once health and circuit filters are applied.
type NoCapacityError struct {
	Provider string
	Model    string
}

func (e NoCapacityError) Error() string {
	return fmt.Sprintf("no capacity: provider=%s model=%s", e.Provider, e.Model)
}

func ErrNoCapacity(provider, model string) error {
	return NoCapacityError{Provider: provider, Model: model}
}

// InstanceFailureError is local to one dispatch attempt: upstream timeout
// or upstream non-success. Feeds CircuitBreaker and FailoverExecutor; not
// surfaced unless all alternatives are exhausted.
type InstanceFailureError struct {
	InstanceID string
	Cause      error
}

func (e InstanceFailureError) Error() string {
	return fmt.Sprintf("instance failure: %s: %v", e.InstanceID, e.Cause)
}

func (e InstanceFailureError) Unwrap() error { return e.Cause }

func ErrInstanceFailure(instanceID string, cause error) error {
	return InstanceFailureError{InstanceID: instanceID, Cause: cause}
}

// CircuitOpenError is a fast-fail on a gated call; treated like
// InstanceFailureError for failover purposes.
type CircuitOpenError struct {
	InstanceID string
}

func (e CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open: %s", e.InstanceID)
}

func ErrCircuitOpenFor(instanceID string) error {
	return CircuitOpenError{InstanceID: instanceID}
}

// ProbeFailureError drops is_healthy and feeds the consecutive-failure
// count; never surfaced to the request path.
type ProbeFailureError struct {
	InstanceID string
	Kind       string
	Cause      error
}

func (e ProbeFailureError) Error() string {
	return fmt.Sprintf("probe failure: %s/%s: %v", e.InstanceID, e.Kind, e.Cause)
}

func (e ProbeFailureError) Unwrap() error { return e.Cause }

func ErrProbeFailure(instanceID, kind string, cause error) error {
	return ProbeFailureError{InstanceID: instanceID, Kind: kind, Cause: cause}
}

// StoreError propagates; callers abort the current operation and mutating
// callers roll back in-memory state.
type StoreError struct {
	Op    string
	Cause error
}

func (e StoreError) Error() string {
	return fmt.Sprintf("store error during %s: %v", e.Op, e.Cause)
}

func (e StoreError) Unwrap() error { return e.Cause }

func ErrStore(op string, cause error) error {
	return StoreError{Op: op, Cause: cause}
}

// Wrap attaches a message to an existing error without discarding its
// identity for errors.Is/errors.As.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// Sentinels for conditions with no interesting payload.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)

// Retriable reports whether the FailoverExecutor should treat err as an
// indication that the next alternative may succeed.
func Retriable(err error) bool {
	var inst InstanceFailureError
	var circ CircuitOpenError
	return errors.As(err, &inst) || errors.As(err, &circ)
}
