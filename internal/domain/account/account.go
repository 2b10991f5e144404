package account

import "time"

// Account is the credential record for a registered user. Tokens are held as
// nullable pairs (value + expiry); an expired token is treated as absent.
type Account struct {
	ID                    string     `json:"id"`
	Email                 string     `json:"email"`
	PasswordHash          string     `json:"-"` // never expose hash in JSON
	Name                  string     `json:"name"`
	Role                  string     `json:"role"`
	Verified              bool       `json:"verified"`
	VerificationToken     *string    `json:"-"`
	VerificationExpiresAt *time.Time `json:"-"`
	ResetToken            *string    `json:"-"`
	ResetExpiresAt        *time.Time `json:"-"`
	LastLoginAt           *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// HasPendingVerification reports whether a still-valid verification token is
// attached at the given instant.
func (a Account) HasPendingVerification(now time.Time) bool {
	return a.VerificationToken != nil &&
		a.VerificationExpiresAt != nil &&
		now.Before(*a.VerificationExpiresAt)
}

// HasPendingReset reports whether a still-valid reset token is attached at
// the given instant.
func (a Account) HasPendingReset(now time.Time) bool {
	return a.ResetToken != nil &&
		a.ResetExpiresAt != nil &&
		now.Before(*a.ResetExpiresAt)
}
