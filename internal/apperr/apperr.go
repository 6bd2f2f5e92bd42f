// Package apperr classifies errors into the kinds defined in spec §7, so
// callers can decide retry/propagation behavior without string-matching.
package apperr

import "fmt"

// Kind is the closed set of error kinds the pipeline distinguishes.
type Kind int

const (
	// Internal is a programmer error caught by the bus worker.
	Internal Kind = iota
	// TransientNetwork covers connection refused, timeouts, 5xx.
	TransientNetwork
	// RateLimited is an explicit upstream rate-limit signal.
	RateLimited
	// ProtocolInvalid covers malformed JSON / schema mismatch.
	ProtocolInvalid
	// ConstraintViolation is a duplicate-key error, expected under replay.
	ConstraintViolation
	// Fatal means the process (or a health probe) must stop serving.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case TransientNetwork:
		return "transient_network"
	case RateLimited:
		return "rate_limited"
	case ProtocolInvalid:
		return "protocol_invalid"
	case ConstraintViolation:
		return "constraint_violation"
	case Fatal:
		return "fatal"
	default:
		return "internal"
	}
}

// Error wraps an underlying error with a Kind and an operation label.
type Error struct {
	Kind      Kind
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Operation, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap annotates err with a kind and operation; returns nil if err is nil.
func Wrap(kind Kind, operation string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Operation: operation, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal if err isn't
// (or doesn't wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind
	}
	return Internal
}

// IsRetryable reports whether the error kind is worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case TransientNetwork, RateLimited:
		return true
	default:
		return false
	}
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
