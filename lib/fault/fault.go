// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fault classifies engine errors into the three kinds callers
// act on differently:
//
//   - Configuration: the host cannot satisfy the request as configured
//     (no jail under strict isolation, no account-management tools).
//     Fatal to the operation and surfaced unchanged to the caller.
//   - Validation: the request itself is unacceptable (rejected custom
//     command, job type unsupported for the project type). The job
//     fails before any process is spawned.
//   - Execution: a process ran and failed (spawn error, non-zero exit,
//     timeout).
//
// Kinds survive wrapping: fault.IsKind(fmt.Errorf("x: %w", err), k)
// still reports the kind of the innermost classified error.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the error class.
type Kind int

const (
	Configuration Kind = iota + 1
	Validation
	Execution
)

func (k Kind) String() string {
	switch k {
	case Configuration:
		return "configuration"
	case Validation:
		return "validation"
	case Execution:
		return "execution"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified error. Op names the failing operation
// ("sandbox build", "identity provision").
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's
// chain, or 0 if none is classified.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return 0
}

// IsKind reports whether err's chain carries a classified error of
// the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
