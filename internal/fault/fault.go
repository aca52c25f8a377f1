// Package fault names the failure kinds a generation job can end with.
// Every failure is contained at the job boundary; the kind decides whether
// the user is told about it and how.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a job failure.
type Kind int

const (
	// None is the kind of a nil or unclassified error.
	None Kind = iota
	// EngineFailure is a system-level fault raised by the generation call
	// (resource exhaustion, missing binary, connection refused).
	EngineFailure
	// EngineError is any other failure from the generation call.
	EngineError
	// Storage is a history read or append failure.
	Storage
	// Delivery is a transport rejection of a send, edit or delete.
	Delivery
)

// String returns the kind's label, used for logs and metric labels.
func (k Kind) String() string {
	switch k {
	case EngineFailure:
		return "engine_failure"
	case EngineError:
		return "engine_error"
	case Storage:
		return "storage"
	case Delivery:
		return "delivery"
	default:
		return "none"
	}
}

// Error is a failure tagged with its Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost Kind found in err's chain, or None.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return None
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
