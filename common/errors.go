package common

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("storage engine closed")

	// Kinds carried by *Error.
	ErrIO         = errors.New("io error")
	ErrCorrupt    = errors.New("corrupt record")
	ErrCompaction = errors.New("compaction failed")
)

// Error is a failure of a storage operation. Kind is one of ErrIO,
// ErrCorrupt or ErrCompaction; Err is the underlying cause. Both are
// reachable through errors.Is and errors.As.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IOError wraps err as an ErrIO failure of op. Returns nil if err is nil.
func IOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrIO, Op: op, Err: err}
}

// CorruptError reports a malformed record found while performing op.
func CorruptError(op string, err error) error {
	return &Error{Kind: ErrCorrupt, Op: op, Err: err}
}

// CompactionError wraps err as an ErrCompaction failure of op.
func CompactionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: ErrCompaction, Op: op, Err: err}
}
