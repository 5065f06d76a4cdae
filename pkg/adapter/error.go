package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error wraps provider errors with status metadata.
type Error struct {
	Status    int
	Temporary bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return "adapter error"
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("adapter error (status=%d)", e.Status)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsTransient reports whether an error is safe to retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var advErr *Error
	if errors.As(err, &advErr) {
		if advErr.Temporary {
			return true
		}
		if advErr.Status == 429 || (advErr.Status >= 500 && advErr.Status <= 599) {
			return true
		}
	}
	return false
}
