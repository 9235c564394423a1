// Package qerror defines the error taxonomy used by the Query
// controller and its collaborating pipelines.
//
// sneller mostly wraps errors with fmt.Errorf("...: %w") and never
// needs a caller to distinguish error kinds at runtime. The
// Query lifecycle does need that distinction -- BufferOverflow is
// recoverable (the caller re-submits) while everything else marks the
// Query FAILED -- so this package adds a small Kind tag on top of the
// same wrapping idiom.
package qerror

import (
	"errors"
	"fmt"
)

// Kind classifies an error raised anywhere in the query core.
type Kind int

const (
	// InternalError indicates an invariant breach; it should not
	// occur in correctly functioning code.
	InternalError Kind = iota
	// ConfigError covers bad Query configuration: uninitialized
	// query, unsupported layout, missing buffers.
	ConfigError
	// SchemaMismatch covers unknown attributes or datatype
	// mismatches between supplied buffers and the schema.
	SchemaMismatch
	// SubarrayError covers out-of-domain ranges and inverted bounds.
	SubarrayError
	// BufferOverflow is the only recoverable kind: an output buffer
	// was too small. The Query transitions to INCOMPLETE instead of
	// FAILED.
	BufferOverflow
	// IOError covers failed reads, writes, renames, or removes.
	IOError
	// ConsistencyError covers inconsistent fragment metadata or a
	// tile size mismatch.
	ConsistencyError
)

func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case SchemaMismatch:
		return "SchemaMismatch"
	case SubarrayError:
		return "SubarrayError"
	case BufferOverflow:
		return "BufferOverflow"
	case IOError:
		return "IOError"
	case ConsistencyError:
		return "ConsistencyError"
	default:
		return "InternalError"
	}
}

// Error is the concrete error type produced by this module. Use
// errors.As to recover the Kind from an error returned by the query
// core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind to an existing error, preserving it for
// errors.Unwrap / errors.Is.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind carried by err, or InternalError if err does
// not wrap a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Recoverable reports whether err represents a condition the caller
// can resolve by re-submitting the Query: only BufferOverflow is
// recoverable.
func Recoverable(err error) bool {
	return KindOf(err) == BufferOverflow
}
