package wallet

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

var (
	ErrNotFound = fmt.Errorf("not found")
	ErrConflict = fmt.Errorf("conflict")
	ErrInvalid  = fmt.Errorf("invalid")
	ErrStorage  = fmt.Errorf("storage failure")
)

// StorageError reports a failed store operation. It matches ErrStorage and
// unwraps to the driver error.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	if isUniqueViolation(err) {
		err = fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return &StorageError{Op: op, Err: err}
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
