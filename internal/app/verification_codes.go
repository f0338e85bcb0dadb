package app

import (
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// VerificationCodes derives short numeric email verification codes from a
// per-user TOTP secret. A code stays valid for one period on either side of
// the period it was issued in.
type VerificationCodes struct {
	issuer string
	period time.Duration
}

// NewVerificationCodes creates a code generator whose codes rotate every period.
func NewVerificationCodes(issuer string, period time.Duration) *VerificationCodes {
	if period < time.Minute {
		period = 15 * time.Minute
	}
	return &VerificationCodes{issuer: issuer, period: period}
}

// Period returns how long a code is current.
func (c *VerificationCodes) Period() time.Duration {
	return c.period
}

func (c *VerificationCodes) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(c.period / time.Second),
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// NewSecret generates a fresh base32 secret for account.
func (c *VerificationCodes) NewSecret(account string) (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      c.issuer,
		AccountName: account,
		Period:      uint(c.period / time.Second),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate verification secret: %w", err)
	}
	return key.Secret(), nil
}

// Code returns the code for secret at t.
func (c *VerificationCodes) Code(secret string, t time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(secret, t, c.opts())
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return code, nil
}

// Check reports whether code is valid for secret at t.
func (c *VerificationCodes) Check(code, secret string, t time.Time) bool {
	ok, err := totp.ValidateCustom(code, secret, t, c.opts())
	return err == nil && ok
}
