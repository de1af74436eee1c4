package models

import "time"

// OTPSecret is the per-user TOTP seed. It is created once and never rotated.
type OTPSecret struct {
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Secret    string    `json:"-" dynamodbav:"secret"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// PendingChallenge is issued after a password check and consumed by the OTP check.
type PendingChallenge struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Code      string    `json:"code"`
	Password  string    `json:"password"`
	CreatedAt time.Time `json:"created_at"`
}

// ElevatedSession marks a user who completed the second factor.
type ElevatedSession struct {
	Elevated   bool      `json:"elevated"`
	VerifiedAt time.Time `json:"verified_at"`
}
