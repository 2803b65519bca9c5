package service

import (
	"errors"
	"fmt"
)

// Domain errors returned to callers as-is.
var (
	ErrBoxNotFound        = errors.New("box not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrOutOfStock         = errors.New("box is out of stock")
	ErrInvalidBox         = errors.New("invalid box")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrForbidden          = errors.New("not allowed")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrDuplicateRequest   = errors.New("a request with this idempotency key is already in progress")
)

// ErrStorage matches every StorageError through errors.Is.
var ErrStorage = errors.New("storage failure")

// StorageError wraps an unexpected failure of the database or transaction.
// Callers should log it and report a generic failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageFailure(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

var domainErrors = []error{
	ErrBoxNotFound, ErrUserNotFound, ErrInsufficientFunds, ErrOutOfStock,
	ErrInvalidBox, ErrInvalidInput, ErrInvalidAmount, ErrForbidden,
	ErrUsernameTaken, ErrInvalidCredentials, ErrDuplicateRequest,
}

// IsDomainError reports whether err is one of the expected business outcomes.
func IsDomainError(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// asStorageFailure leaves domain and storage errors alone and wraps
// anything else, such as a failed begin or commit.
func asStorageFailure(op string, err error) error {
	if err == nil || IsDomainError(err) || errors.Is(err, ErrStorage) {
		return err
	}
	return storageFailure(op, err)
}
