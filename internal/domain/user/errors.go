package user

import "errors"

var (
	ErrNotFound        = errors.New("user not found")
	ErrEmailTaken      = errors.New("email already in use")
	ErrExternalIDTaken = errors.New("external id already linked")

	ErrSessionNotFound = errors.New("refresh session not found")
	ErrSessionRevoked  = errors.New("refresh session revoked")
	ErrSessionExpired  = errors.New("refresh session expired")
	ErrSessionMismatch = errors.New("refresh session hash mismatch")
)
