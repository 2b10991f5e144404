package notifications

import "context"

type SendVerificationInput struct {
	Email     string
	Name      string
	AccountID string
	Token     string
}

type SendPasswordResetInput struct {
	Email     string
	Name      string
	AccountID string
	Token     string
}

// Notifier is the mail-provider seam. The core never sends mail itself; the
// worker hands the token to whatever implementation is wired in.
type Notifier interface {
	SendVerification(ctx context.Context, input SendVerificationInput) error
	SendPasswordReset(ctx context.Context, input SendPasswordResetInput) error
}
