package models

import "time"

type TrustedDevice struct {
	ID                    string     `json:"id"`
	AccountID             string     `json:"-"`
	Fingerprint           string     `json:"-"`
	Name                  string     `json:"name"`
	Platform              string     `json:"platform"`
	Browser               string     `json:"browser"`
	IPAddress             string     `json:"ip_address"`
	IsTrusted             bool       `json:"is_trusted"`
	FirstSeenAt           time.Time  `json:"first_seen_at"`
	LastSeenAt            time.Time  `json:"last_seen_at"`
	VerificationTokenHash *string    `json:"-"` // sha256 hex, never the plaintext
	VerificationExpiresAt *time.Time `json:"-"`
	VerifiedAt            *time.Time `json:"verified_at,omitempty"`
}

// HasPendingVerification reports whether an unexpired token is outstanding.
func (d *TrustedDevice) HasPendingVerification(now time.Time) bool {
	if d.IsTrusted || d.VerificationTokenHash == nil {
		return false
	}
	return d.VerificationExpiresAt == nil || now.Before(*d.VerificationExpiresAt)
}
