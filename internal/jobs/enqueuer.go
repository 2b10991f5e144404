package jobs

import (
	"context"
	"time"

	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/domain/job"
)

// Creator is the slice of the jobs repo the enqueuer needs.
type Creator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

// Enqueuer turns lifecycle notification requests into pending job rows. It
// satisfies lifecycle.Notifications.
type Enqueuer struct {
	repo Creator
}

func NewEnqueuer(repo Creator) *Enqueuer {
	return &Enqueuer{repo: repo}
}

func (e *Enqueuer) EnqueueVerification(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error {
	return e.enqueue(ctx, JobVerificationEmail, VerificationEmailPayload{
		AccountID: acct.ID,
		Email:     acct.Email,
		Name:      acct.Name,
		Token:     token,
		ExpiresAt: expiresAt,
	}, acct.ID, token)
}

func (e *Enqueuer) EnqueuePasswordReset(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error {
	return e.enqueue(ctx, JobPasswordResetEmail, PasswordResetEmailPayload{
		AccountID: acct.ID,
		Email:     acct.Email,
		Name:      acct.Name,
		Token:     token,
		ExpiresAt: expiresAt,
	}, acct.ID, token)
}

func (e *Enqueuer) enqueue(ctx context.Context, t JobType, payload any, accountID, token string) error {
	if err := ValidatePayload(t, payload); err != nil {
		return err
	}

	raw, err := EncodePayload(t, payload)

	if err != nil {
		return err
	}

	// one job per issued token
	key := string(t) + ":" + accountID + ":" + token
	aid := accountID

	_, err = e.repo.Create(ctx, job.CreateRequest{
		Type:           string(t),
		Payload:        raw,
		RunAt:          time.Now().UTC(),
		MaxAttempts:    10,
		IdempotencyKey: &key,
		AccountID:      &aid,
	})

	return err
}
