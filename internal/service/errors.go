package service

import "errors"

// Sentinel errors; handlers map them to HTTP status codes. None of their
// messages carry codes, passwords or secrets.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrChallengeNotFound  = errors.New("no pending OTP challenge")
	ErrCodeMismatch       = errors.New("invalid OTP code")
	ErrChallengeExpired   = errors.New("OTP challenge expired")
	ErrNotElevated        = errors.New("OTP verification required")

	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrUsernameTaken  = errors.New("username already taken")
)
