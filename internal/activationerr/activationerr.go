// Package activationerr implements the error taxonomy from spec.md §7: seven
// named error kinds, and a WithPartialResult carrier that lets every pipeline
// stage fail while still returning the best state it managed to build, so
// the caller can persist it instead of losing work on error.
package activationerr

import "fmt"

// Kind identifies which of the six error categories an error belongs to, for
// use in exit-code mapping and log classification. JobTimeout, the seventh
// named kind, is carried as a DbusError (see NewJobTimeout).
type Kind int

const (
	// InvalidStorePath: input path does not canonicalize under the store
	// prefix. Fatal before any mutation.
	InvalidStorePath Kind = iota
	// UnmanagedConflict: destination exists, is not a symlink we own, and
	// would be overwritten. That entry is skipped; activation continues.
	UnmanagedConflict
	// FilesystemError: permission, ENOSPC, missing source, etc. Activation
	// aborts at that stage; the partial tree persists.
	FilesystemError
	// DbusError: transport error with the systemd supervisor. Fatal to the
	// stage.
	DbusError
	// MalformedInput: JSON parse error on profile files. The previous
	// record is preserved.
	MalformedInput
	// ExternalToolFailure: non-zero exit from preActivationAssertions.
	// Fatal; aborts before any mutation.
	ExternalToolFailure
)

// String names the kind for logging and exit-code mapping.
func (k Kind) String() string {
	switch k {
	case InvalidStorePath:
		return "InvalidStorePath"
	case UnmanagedConflict:
		return "UnmanagedConflict"
	case FilesystemError:
		return "FilesystemError"
	case DbusError:
		return "DbusError"
	case MalformedInput:
		return "MalformedInput"
	case ExternalToolFailure:
		return "ExternalToolFailure"
	default:
		return "Unknown"
	}
}

// Error is a classified activation error. JobTimeout does not get its own
// Kind: per spec.md §7 it is "treated as DbusError by the caller", so
// NewJobTimeout just returns a DbusError-kind Error with a distinguishing
// message.
type Error struct {
	Kind    Kind
	Path    string
	Cause   error
	Message string
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.cause())
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause())
}

func (e *Error) cause() error {
	if e.Cause != nil {
		return e.Cause
	}
	return fmt.Errorf("%s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs a classified Error.
func New(kind Kind, path string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Cause: cause}
}

// Newf constructs a classified Error from a format string, with no
// underlying cause to wrap.
func Newf(kind Kind, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// NewJobTimeout builds the JobTimeout error described in spec.md §7: a
// DbusError variant raised when JobDispatcher.WaitAll's 30-second deadline
// elapses.
func NewJobTimeout(pending []string) *Error {
	return &Error{
		Kind:    DbusError,
		Message: fmt.Sprintf("timed out waiting for %d job(s) to complete", len(pending)),
	}
}

// WithPartialResult carries the best-effort state built up to the point of
// failure (spec.md §9's "Partial-result propagation" design note). Every
// pipeline stage that can fail midway returns one of these instead of
// discarding work: the Partial field is always the same type as the stage's
// success value, so the caller can persist it exactly as it would a success.
type WithPartialResult[T any] struct {
	Partial T
	Cause   error
}

func (w *WithPartialResult[T]) Error() string {
	return fmt.Sprintf("partial result available: %v", w.Cause)
}

func (w *WithPartialResult[T]) Unwrap() error {
	return w.Cause
}

// Partial wraps cause together with the best-effort value built so far.
func Partial[T any](partial T, cause error) *WithPartialResult[T] {
	return &WithPartialResult[T]{Partial: partial, Cause: cause}
}
