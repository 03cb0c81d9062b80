package models

import "time"

// OneTimeCode is the single live password-recovery code for an email.
type OneTimeCode struct {
	Email     string
	Code      string // 6 digits, leading zeros preserved
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (c *OneTimeCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
