package service

import (
	"fmt"
	"time"

	"github.com/libris/libris/internal/config"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPGenerator creates per-user secrets and derives login codes from them.
type TOTPGenerator struct {
	issuer string
	opts   totp.ValidateOpts
}

func NewTOTPGenerator(cfg *config.OTPConfig) *TOTPGenerator {
	return &TOTPGenerator{
		issuer: cfg.Issuer,
		opts: totp.ValidateOpts{
			Period:    uint(cfg.Period / time.Second),
			Digits:    otp.Digits(cfg.Digits),
			Algorithm: otp.AlgorithmSHA1,
		},
	}
}

// GenerateSecret returns a new base32 secret. The secret never leaves the
// server; codes derived from it are delivered through a CodeSender.
func (g *TOTPGenerator) GenerateSecret(accountName string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountName,
		Period:      g.opts.Period,
		Digits:      g.opts.Digits,
		Algorithm:   g.opts.Algorithm,
		SecretSize:  20,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	return key.Secret(), nil
}

// Code returns the numeric code for secret at t.
func (g *TOTPGenerator) Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, g.opts)
	if err != nil {
		return "", fmt.Errorf("failed to derive TOTP code: %w", err)
	}
	return code, nil
}
