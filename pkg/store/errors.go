package store

import (
	"errors"
	"fmt"
)

// ErrCorruptMapping reports a message mapping whose value is not
// "<channel>:<message>". Nothing is deleted when it is returned.
var ErrCorruptMapping = errors.New("corrupt message mapping")

// Error wraps a failed Redis operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
