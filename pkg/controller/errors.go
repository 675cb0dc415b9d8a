package controller

import "fmt"

// ErrorKind enumerates the Controller's error taxonomy, used to map any
// component failure onto a stable {code, message, retry_after?} shape
// at the API boundary.
type ErrorKind string

const (
	ErrUnknownProfile  ErrorKind = "unknown_profile"
	ErrUnknownJob      ErrorKind = "unknown_job"
	ErrUnknownTool     ErrorKind = "unknown_tool"
	ErrBadManifest     ErrorKind = "bad_manifest"
	ErrComponentFailed ErrorKind = "component_failed"
)

// ControllerError wraps a dispatch failure with the kind a caller maps
// to a response code, and whether the underlying cause is safe to retry.
type ControllerError struct {
	Kind       ErrorKind
	Op         string
	RetryAfter bool
	Err        error
}

func (e *ControllerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("controller: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("controller: %s: %s", e.Op, e.Kind)
}

func (e *ControllerError) Unwrap() error { return e.Err }

func newError(op string, kind ErrorKind, err error) *ControllerError {
	return &ControllerError{Op: op, Kind: kind, Err: err}
}
