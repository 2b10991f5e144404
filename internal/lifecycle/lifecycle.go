// Package lifecycle owns every account mutation tied to authentication state:
// signup, email verification, login, password reset. HTTP handlers stay thin
// and call into this service; persistence and notification delivery sit
// behind small interfaces so tests can fake them.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/security"
	"github.com/google/uuid"
)

// AccountStore is the persistence contract. Token consumption must be a
// single conditional update on the store side: two concurrent consumes of the
// same token must yield exactly one success.
type AccountStore interface {
	Create(ctx context.Context, acct account.Account) (account.Account, error)
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	GetByID(ctx context.Context, id string) (account.Account, error)
	ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error)
	SetResetToken(ctx context.Context, accountID, token string, expiresAt time.Time) error
	ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (account.Account, error)
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error
}

// TokenIssuer mints the signed session tokens handed back on login.
type TokenIssuer interface {
	GenerateAccessToken(accountID, email, role string) (string, error)
	GenerateRefreshToken(accountID, email, role string) (raw string, jti string, expiresAt time.Time, err error)
	HashRefreshToken(raw string) string
}

// SessionStore persists refresh-token digests and supports bulk revocation.
type SessionStore interface {
	Store(ctx context.Context, jti, accountID, tokenHash string, expiresAt time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string) error
}

// Notifications enqueues outbound email work. Enqueue failure never rolls
// back account state; delivery is best effort from the service's view.
type Notifications interface {
	EnqueueVerification(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error
	EnqueuePasswordReset(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error
}

type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

type Config struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
}

type Service struct {
	store    AccountStore
	sessions SessionStore
	issuer   TokenIssuer
	notify   Notifications
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewService(store AccountStore, sessions SessionStore, issuer TokenIssuer, notify Notifications, log *slog.Logger, cfg Config) *Service {
	if cfg.VerificationTTL <= 0 {
		cfg.VerificationTTL = 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}

	return &Service{
		store:    store,
		sessions: sessions,
		issuer:   issuer,
		notify:   notify,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// NormalizeEmail fixes the case policy once for the whole service: emails are
// compared case-insensitively and stored lowercase.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an unverified account, attaches a fresh verification token
// and hands it to the notification queue. The plaintext password never leaves
// this function.
func (s *Service) Register(ctx context.Context, email, password, name string) (account.Account, error) {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" || password == "" || name == "" {
		return account.Account{}, account.ErrValidation
	}

	hash, err := security.HashPassword(password)

	if err != nil {
		return account.Account{}, err
	}

	token, err := security.RandomToken()

	if err != nil {
		return account.Account{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.cfg.VerificationTTL)

	acct := account.Account{
		ID:                    uuid.NewString(),
		Email:                 email,
		PasswordHash:          hash,
		Name:                  name,
		Role:                  "user",
		Verified:              false,
		VerificationToken:     &token,
		VerificationExpiresAt: &expiresAt,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	// Duplicate emails surface here as account.ErrEmailTaken, mapped from the
	// store's unique constraint. No read-then-insert pre-check: that would
	// race between two concurrent registrations.
	created, err := s.store.Create(ctx, acct)

	if err != nil {
		return account.Account{}, err
	}

	if err := s.notify.EnqueueVerification(ctx, created, token, expiresAt); err != nil {
		// account and token are already persisted; delivery is at-least-once
		// via the worker, so log and move on
		s.log.Warn("verification enqueue failed", "account_id", created.ID, "err", err)
	}

	return created, nil
}

// Verify consumes a verification token. The store clears the token in the
// same statement that checks it, so a token can be spent exactly once and an
// expired token behaves as if it never existed.
func (s *Service) Verify(ctx context.Context, token string) (account.Account, error) {
	if token == "" {
		return account.Account{}, account.ErrValidation
	}

	return s.store.ConsumeVerificationToken(ctx, token, s.now())
}

// Login checks credentials and mints a session. Unknown email and wrong
// password return distinct sentinels for callers that need to branch
// (metrics, lockout); the HTTP layer renders both identically so responses
// do not leak which half was wrong.
//
// Unverified accounts may log in; verification gates nothing but itself.
func (s *Service) Login(ctx context.Context, email, password string) (account.Account, TokenPair, error) {
	email = NormalizeEmail(email)

	if email == "" || password == "" {
		return account.Account{}, TokenPair{}, account.ErrValidation
	}

	acct, err := s.store.GetByEmail(ctx, email)

	if err != nil {
		return account.Account{}, TokenPair{}, err
	}

	if err := security.CheckPassword(acct.PasswordHash, password); err != nil {
		return account.Account{}, TokenPair{}, account.ErrInvalidCredentials
	}

	now := s.now()

	if err := s.store.TouchLastLogin(ctx, acct.ID, now); err != nil {
		return account.Account{}, TokenPair{}, err
	}
	acct.LastLoginAt = &now

	pair, err := s.issueSession(ctx, acct)

	if err != nil {
		return account.Account{}, TokenPair{}, err
	}

	return acct, pair, nil
}

// RequestPasswordReset is deliberately indistinguishable for known and
// unknown emails: it only errors on infrastructure failure, never on a miss.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = NormalizeEmail(email)

	if email == "" {
		return account.ErrValidation
	}

	acct, err := s.store.GetByEmail(ctx, email)

	if err != nil {
		if err == account.ErrAccountNotFound {
			return nil
		}
		return err
	}

	token, err := security.RandomToken()

	if err != nil {
		return err
	}

	expiresAt := s.now().Add(s.cfg.ResetTTL)

	if err := s.store.SetResetToken(ctx, acct.ID, token, expiresAt); err != nil {
		return err
	}

	if err := s.notify.EnqueuePasswordReset(ctx, acct, token, expiresAt); err != nil {
		s.log.Warn("reset enqueue failed", "account_id", acct.ID, "err", err)
	}

	return nil
}

// ResetPassword spends a reset token, installs the new hash and revokes every
// outstanding refresh token for the account, forcing a fresh login.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return account.ErrValidation
	}

	hash, err := security.HashPassword(newPassword)

	if err != nil {
		return err
	}

	acct, err := s.store.ConsumeResetToken(ctx, token, hash, s.now())

	if err != nil {
		return err
	}

	return s.sessions.RevokeAllForAccount(ctx, acct.ID)
}

func (s *Service) issueSession(ctx context.Context, acct account.Account) (TokenPair, error) {
	access, err := s.issuer.GenerateAccessToken(acct.ID, acct.Email, acct.Role)

	if err != nil {
		return TokenPair{}, err
	}

	raw, jti, expiresAt, err := s.issuer.GenerateRefreshToken(acct.ID, acct.Email, acct.Role)

	if err != nil {
		return TokenPair{}, err
	}

	if err := s.sessions.Store(ctx, jti, acct.ID, s.issuer.HashRefreshToken(raw), expiresAt); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		RefreshExpiresAt: expiresAt,
	}, nil
}
