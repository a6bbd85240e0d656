// Package merrors defines the typed error taxonomy shared by every MoteDB
// storage package: Io, Corruption, InvalidData, Serialization, Index, Lock,
// Transaction, FileNotFound. Every error carries a Kind so callers can branch
// on failure category without type-asserting each concrete error.
package merrors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies a MoteDB error for caller-side branching and logging.
type Kind int

const (
	KindUnknown Kind = iota
	KindIO
	KindCorruption
	KindInvalidData
	KindSerialization
	KindIndex
	KindLock
	KindTransaction
	KindFileNotFound
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "Io"
	case KindCorruption:
		return "Corruption"
	case KindInvalidData:
		return "InvalidData"
	case KindSerialization:
		return "Serialization"
	case KindIndex:
		return "Index"
	case KindLock:
		return "Lock"
	case KindTransaction:
		return "Transaction"
	case KindFileNotFound:
		return "FileNotFound"
	default:
		return "Unknown"
	}
}

// Error is the single concrete error type for every MoteDB failure. Op
// identifies the operation that failed (e.g. "wal.append", "sstable.open").
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op, msg string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrapf(cause, "%s", op)
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: wrapped}
}

func IOErr(op, msg string, cause error) *Error            { return newErr(KindIO, op, msg, cause) }
func CorruptionErr(op, msg string, cause error) *Error    { return newErr(KindCorruption, op, msg, cause) }
func InvalidDataErr(op, msg string, cause error) *Error   { return newErr(KindInvalidData, op, msg, cause) }
func SerializationErr(op, msg string, cause error) *Error { return newErr(KindSerialization, op, msg, cause) }
func IndexErr(op, msg string, cause error) *Error         { return newErr(KindIndex, op, msg, cause) }
func LockErr(op, msg string, cause error) *Error          { return newErr(KindLock, op, msg, cause) }
func TransactionErr(op, msg string, cause error) *Error   { return newErr(KindTransaction, op, msg, cause) }
func FileNotFoundErr(op, msg string, cause error) *Error  { return newErr(KindFileNotFound, op, msg, cause) }

// Is reports whether err is a MoteDB error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
