package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Credential errors
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account is temporarily locked")
	ErrAccountNotApproved = errors.New("account is not approved")

	// Recovery errors
	ErrInvalidOTP         = errors.New("invalid verification code")
	ErrExpiredOTP         = errors.New("verification code has expired")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrNotificationFailed = errors.New("notification could not be delivered")

	ErrDeviceVerificationFailed = errors.New("device verification failed")

	// Session errors
	ErrNoSession      = errors.New("no active session")
	ErrSessionExpired = errors.New("session expired due to inactivity")
)

// LockedOutError is returned while locked_until is in the future.
type LockedOutError struct {
	RemainingMinutes int
}

func (e *LockedOutError) Error() string {
	unit := "minutes"
	if e.RemainingMinutes == 1 {
		unit = "minute"
	}
	return fmt.Sprintf("account is temporarily locked, try again in %d %s", e.RemainingMinutes, unit)
}

func (e *LockedOutError) Unwrap() error { return ErrAccountLocked }

// InvalidCredentialsError covers both unknown email and wrong password.
// AttemptsRemaining is -1 when no account matched.
type InvalidCredentialsError struct {
	AttemptsRemaining int
}

func (e *InvalidCredentialsError) Error() string {
	return ErrInvalidCredentials.Error()
}

func (e *InvalidCredentialsError) Unwrap() error { return ErrInvalidCredentials }

type AccountNotApprovedError struct {
	Status string
}

func (e *AccountNotApprovedError) Error() string {
	switch e.Status {
	case StatusPending:
		return "your account is awaiting approval by a barangay official"
	case StatusDeclined:
		return "your account registration was declined"
	default:
		return ErrAccountNotApproved.Error()
	}
}

func (e *AccountNotApprovedError) Unwrap() error { return ErrAccountNotApproved }
