package errors

import (
	"errors"
	"fmt"
)

// Common error types for the provider
var (
	// Store errors
	ErrNotFound         = errors.New("not found")
	ErrConcurrentUpdate = errors.New("concurrent update")
	ErrStoreClosed      = errors.New("store closed")

	// Grant lifecycle errors
	ErrExpired         = errors.New("expired")
	ErrReplayDetected  = errors.New("replay detected")
	ErrReuseDetected   = errors.New("refresh token reuse detected")
	ErrInvalidState    = errors.New("invalid state transition")
	ErrClientMismatch  = errors.New("client mismatch")
	ErrSubjectMismatch = errors.New("subject mismatch")

	// Token errors
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrNoSigningKey   = errors.New("no signing key available")
	ErrAlgKeyMismatch = errors.New("signing algorithm incompatible with key type")

	// Credential errors
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserBlocked        = errors.New("user is blocked")
	ErrUserNotFound       = errors.New("user not found")

	// General errors
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join returns an error wrapping all non-nil errs
func Join(errs ...error) error {
	return errors.Join(errs...)
}
