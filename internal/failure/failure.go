// Package failure defines the report pipeline's error taxonomy and the
// user-facing reasons recorded on failed reports.
package failure

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

// Kind is a category in the error taxonomy.
type Kind string

const (
	InvalidInput          Kind = "invalid_input"
	SourceUnavailable     Kind = "source_unavailable"
	NoUsableData          Kind = "no_usable_data"
	DegradedResult        Kind = "degraded_result"
	InternalInconsistency Kind = "internal_inconsistency"
)

// Fatal reports whether a stage failure of this kind stops the pipeline.
// SourceUnavailable is only fatal once the executor has exhausted a
// mandatory stage, at which point it is reported as NoUsableData.
func (k Kind) Fatal() bool {
	switch k {
	case InvalidInput, NoUsableData, InternalInconsistency:
		return true
	default:
		return false
	}
}

// Error is a classified failure.
type Error struct {
	Kind   Kind
	Stage  string
	Source string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Invalid creates an InvalidInput error with a caller-facing message.
func Invalid(format string, args ...any) *Error {
	return &Error{Kind: InvalidInput, Err: eris.Errorf(format, args...)}
}

// Unavailable marks err as an explicit failure of the named source.
func Unavailable(source string, err error) *Error {
	return &Error{Kind: SourceUnavailable, Source: source, Err: err}
}

// KindOf classifies any error. An explicit *Error anywhere in the chain
// wins. Everything else (timeouts, network errors, bad responses) is a
// gateway that failed explicitly, which is SourceUnavailable.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return SourceUnavailable
}

// Timeout reports whether err came from a call exceeding its deadline.
func Timeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
