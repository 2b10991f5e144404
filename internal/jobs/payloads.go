package jobs

import "time"

// VerificationEmailPayload carries everything the worker needs to deliver a
// verification link. The token is the secret itself; it is never logged,
// only handed to the notifier.
type VerificationEmailPayload struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// PasswordResetEmailPayload mirrors the verification payload for the reset
// flow.
type PasswordResetEmailPayload struct {
	AccountID string    `json:"accountId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}
