package index

import (
	"errors"
	"fmt"
)

// Kind classifies an index error.
type Kind int

const (
	// KindIo is an underlying OS failure; fatal to the operation.
	KindIo Kind = iota
	// KindCorruption is an invariant violation in persisted data. The caller
	// must not retry.
	KindCorruption
	// KindInvalidData is a caller error (dimension mismatch, unsupported
	// value type, unique-key violation).
	KindInvalidData
	// KindSerialization is an encoder or decoder failure.
	KindSerialization
	// KindIndex is a transient operational failure of the index itself.
	KindIndex
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindIo:
		return "io"
	case KindCorruption:
		return "corruption"
	case KindInvalidData:
		return "invalid data"
	case KindSerialization:
		return "serialization"
	case KindIndex:
		return "index"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the indexing core.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// IoError wraps an OS-level failure.
func IoError(msg string, err error) *Error {
	return &Error{Kind: KindIo, Msg: msg, Err: err}
}

// Corruptionf reports an invariant violation in persisted data.
func Corruptionf(format string, args ...any) *Error {
	return &Error{Kind: KindCorruption, Msg: fmt.Sprintf(format, args...)}
}

// InvalidDataf reports a caller error.
func InvalidDataf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidData, Msg: fmt.Sprintf(format, args...)}
}

// Serializationf reports an encoder/decoder failure.
func Serializationf(format string, args ...any) *Error {
	return &Error{Kind: KindSerialization, Msg: fmt.Sprintf(format, args...)}
}

// Indexf reports a transient operational failure.
func Indexf(format string, args ...any) *Error {
	return &Error{Kind: KindIndex, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an index error of the given kind.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
