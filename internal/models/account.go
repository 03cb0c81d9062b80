package models

import (
	"time"
)

// Roles recognised by the portal
const (
	RoleAdmin    = "admin"
	RoleOfficial = "official"
	RoleResident = "resident"
)

// Account approval states
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDeclined = "declined"
)

type Account struct {
	ID                  string
	Email               string
	PasswordHash        string
	Name                string
	Role                string
	Status              string
	FailedLoginAttempts int
	LockedUntil         *time.Time // nil when the account is open
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether locked_until is still in the future at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}

func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleOfficial, RoleResident:
		return true
	}
	return false
}

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Status string `json:"status"`
}

func (a *Account) ToResponse() AccountResponse {
	return AccountResponse{
		ID:     a.ID,
		Email:  a.Email,
		Name:   a.Name,
		Role:   a.Role,
		Status: a.Status,
	}
}
