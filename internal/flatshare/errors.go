package flatshare

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by lookups of unknown users or groups.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember is returned when a chat already belongs to a flat share.
	ErrAlreadyMember = errors.New("already a member of a flat share")
)

// StorageError reports a validation or backend failure of a store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("flatshare %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

func notFound(what string, key any) error {
	return fmt.Errorf("%s %v: %w", what, key, ErrNotFound)
}
