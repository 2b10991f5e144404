package memory

import (
	"context"
	"sync"
	"time"

	"github.com/geocoder89/authhub/internal/domain/account"
)

// AccountsRepo is an in-memory account store with the same atomicity
// guarantees as the postgres repo: token consumption is check-and-clear under
// one lock, so concurrent consumers of the same token race safely.
type AccountsRepo struct {
	mu      sync.Mutex
	byID    map[string]account.Account
	byEmail map[string]string // email -> id
}

func NewAccountsRepo() *AccountsRepo {
	return &AccountsRepo{
		byID:    make(map[string]account.Account),
		byEmail: make(map[string]string),
	}
}

func (r *AccountsRepo) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[acct.Email]; exists {
		return account.Account{}, account.ErrEmailTaken
	}

	r.byID[acct.ID] = acct
	r.byEmail[acct.Email] = acct.ID

	return acct, nil
}

func (r *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[email]

	if !ok {
		return account.Account{}, account.ErrAccountNotFound
	}

	return r.byID[id], nil
}

func (r *AccountsRepo) GetByID(ctx context.Context, id string) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.byID[id]

	if !ok {
		return account.Account{}, account.ErrAccountNotFound
	}

	return acct, nil
}

func (r *AccountsRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, acct := range r.byID {
		if acct.VerificationToken == nil || *acct.VerificationToken != token {
			continue
		}

		// expired token behaves exactly like an absent one
		if acct.VerificationExpiresAt == nil || !now.Before(*acct.VerificationExpiresAt) {
			return account.Account{}, account.ErrTokenNotFound
		}

		acct.Verified = true
		acct.VerificationToken = nil
		acct.VerificationExpiresAt = nil
		acct.UpdatedAt = now
		r.byID[id] = acct

		return acct, nil
	}

	return account.Account{}, account.ErrTokenNotFound
}

func (r *AccountsRepo) SetResetToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.byID[accountID]

	if !ok {
		return account.ErrAccountNotFound
	}

	acct.ResetToken = &token
	acct.ResetExpiresAt = &expiresAt
	acct.UpdatedAt = time.Now().UTC()
	r.byID[accountID] = acct

	return nil
}

func (r *AccountsRepo) ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, acct := range r.byID {
		if acct.ResetToken == nil || *acct.ResetToken != token {
			continue
		}

		if acct.ResetExpiresAt == nil || !now.Before(*acct.ResetExpiresAt) {
			return account.Account{}, account.ErrTokenNotFound
		}

		acct.PasswordHash = newPasswordHash
		acct.ResetToken = nil
		acct.ResetExpiresAt = nil
		acct.UpdatedAt = now
		r.byID[id] = acct

		return acct, nil
	}

	return account.Account{}, account.ErrTokenNotFound
}

func (r *AccountsRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	acct, ok := r.byID[accountID]

	if !ok {
		return account.ErrAccountNotFound
	}

	acct.LastLoginAt = &at
	acct.UpdatedAt = at
	r.byID[accountID] = acct

	return nil
}

// Count is a test helper.
func (r *AccountsRepo) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.byID)
}
