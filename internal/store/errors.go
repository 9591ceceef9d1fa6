package store

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidName         = errors.New("name is required")
	ErrInvalidPriority     = errors.New("priority level must be between 1 and 3")
	ErrInvalidPosition     = errors.New("position out of range")
	ErrDuplicateToken      = errors.New("token listed more than once")
	ErrQueueNotFound       = errors.New("queue not found")
	ErrTokenNotFound       = errors.New("token not found")
	ErrServiceTypeNotFound = errors.New("service type not found")
	ErrInvalidState        = errors.New("token is not in a servable state")
	ErrNoWaitingToken      = errors.New("no waiting token")
	ErrQueuePaused         = errors.New("queue is paused")
	ErrDailyLimitReached   = errors.New("daily token limit reached")
	ErrStaleOrder          = errors.New("order does not match waiting tokens")
	ErrHeadChanged         = errors.New("token is no longer at the head of the queue")
	ErrTimeout             = errors.New("operation timed out")
)

type Kind int

const (
	KindBackend Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTimeout:
		return "timeout"
	default:
		return "backend"
	}
}

// BackendError wraps a storage or transport failure that has no domain meaning.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// KindOf classifies a non-nil error. Anything unrecognised is a backend error.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidName),
		errors.Is(err, ErrInvalidPriority),
		errors.Is(err, ErrInvalidPosition),
		errors.Is(err, ErrDuplicateToken):
		return KindValidation
	case errors.Is(err, ErrQueueNotFound),
		errors.Is(err, ErrTokenNotFound),
		errors.Is(err, ErrServiceTypeNotFound),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrNoWaitingToken):
		return KindNotFound
	case errors.Is(err, ErrQueuePaused),
		errors.Is(err, ErrDailyLimitReached),
		errors.Is(err, ErrStaleOrder),
		errors.Is(err, ErrHeadChanged):
		return KindConflict
	default:
		return KindBackend
	}
}

// Wrap tags err with op. Domain errors pass through untouched so errors.Is keeps
// working; deadline expiry becomes ErrTimeout.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if KindOf(err) != KindBackend {
		return err
	}
	var backend *BackendError
	if errors.As(err, &backend) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
