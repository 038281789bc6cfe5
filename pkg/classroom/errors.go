package classroom

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind int

const (
	// KindUnavailable covers network failures, timeouts, 429 and 5xx responses.
	KindUnavailable Kind = iota + 1
	// KindAuth means the provider rejected the bearer token (401/403).
	KindAuth
	// KindMalformed means the response could not be decoded.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Error is returned by every Client call.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("classroom %s: %s (status %d): %v", e.Op, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("classroom %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or zero when err is not a classroom error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// IsAuth reports whether err is a rejected-token failure.
func IsAuth(err error) bool { return KindOf(err) == KindAuth }

// IsUnavailable reports whether err is a transient provider failure.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }
