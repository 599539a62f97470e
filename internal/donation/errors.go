package donation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("donation: not found")
	ErrInvalidInput     = errors.New("donation: invalid input")
	ErrForbidden        = errors.New("donation: forbidden")
	ErrAlreadyFulfilled = errors.New("donation: request already fulfilled")
	ErrDuplicateOffer   = errors.New("donation: duplicate pending offer")
)

// RepositoryError wraps a persistence failure. The core never retries;
// the transport decides what to do with it.
type RepositoryError struct {
	Op  string
	Err error
}

func (e *RepositoryError) Error() string {
	return fmt.Sprintf("donation: repository %s: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// WrapRepository tags err as a repository failure unless it is one of the
// domain sentinels (those pass through untouched).
func WrapRepository(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyFulfilled) ||
		errors.Is(err, ErrDuplicateOffer) || errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidInput) {
		return err
	}
	return &RepositoryError{Op: op, Err: err}
}
