package identity

import (
	"errors"
	"fmt"
)

// StoreUnavailableError wraps a failed call to a backing store. It is fatal
// for the operation in progress and is never retried here.
type StoreUnavailableError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsStoreUnavailable reports whether err was caused by a backing store failure.
func IsStoreUnavailable(err error) bool {
	var e *StoreUnavailableError
	return errors.As(err, &e)
}

func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreUnavailableError{Op: op, Key: key, Err: err}
}
