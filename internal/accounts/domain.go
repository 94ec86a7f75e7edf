package accounts

import "time"

// Account represents an administrator account with exactly one role.
type Account struct {
	ID           int64
	PublicID     string
	Email        string
	Username     string
	Phone        string
	PasswordHash string
	RoleID       int64
	RoleName     string
	Superadmin   bool
	IsActive     bool

	RequireTwoFactor      bool
	VerificationCode      *string
	VerificationExpiresAt *time.Time

	LoginAttempts int
	Locked        bool
	AutoUnlockAt  *time.Time

	LastLoginAt *time.Time
	Online      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// attemptCap bounds the failed-attempt counter regardless of threshold.
const attemptCap = 50
