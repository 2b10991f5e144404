package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/lifecycle"
	"github.com/geocoder89/authhub/internal/repo/memory"
	"github.com/geocoder89/authhub/internal/security"
)

// fakeIssuer mints predictable tokens so tests never parse JWTs.

type fakeIssuer struct{}

func (fakeIssuer) GenerateAccessToken(accountID, email, role string) (string, error) {
	return "access-" + accountID, nil
}

func (fakeIssuer) GenerateRefreshToken(accountID, email, role string) (string, string, time.Time, error) {
	return "refresh-" + accountID, "jti-" + accountID, time.Now().UTC().Add(time.Hour), nil
}

func (fakeIssuer) HashRefreshToken(raw string) string { return "hash:" + raw }

// fakeSessions records stored and revoked sessions.

type fakeSessions struct {
	mu      sync.Mutex
	stored  []string // jtis
	revoked []string // account ids
}

func (f *fakeSessions) Store(ctx context.Context, jti, accountID, tokenHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, jti)
	return nil
}

func (f *fakeSessions) RevokeAllForAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, accountID)
	return nil
}

// fakeNotifications captures enqueued tokens and can simulate outages.

type notifyCall struct {
	kind  string
	email string
	token string
}

type fakeNotifications struct {
	mu    sync.Mutex
	calls []notifyCall
	fail  bool
}

func (f *fakeNotifications) EnqueueVerification(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error {
	return f.record("verification", acct.Email, token)
}

func (f *fakeNotifications) EnqueuePasswordReset(ctx context.Context, acct account.Account, token string, expiresAt time.Time) error {
	return f.record("reset", acct.Email, token)
}

func (f *fakeNotifications) record(kind, email, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return errors.New("provider down (simulated)")
	}

	f.calls = append(f.calls, notifyCall{kind: kind, email: email, token: token})
	return nil
}

func (f *fakeNotifications) last(t *testing.T) notifyCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.calls) == 0 {
		t.Fatalf("expected at least one notification")
	}
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	svc      *lifecycle.Service
	store    *memory.AccountsRepo
	sessions *fakeSessions
	notify   *fakeNotifications
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewAccountsRepo()
	sessions := &fakeSessions{}
	notify := &fakeNotifications{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := lifecycle.NewService(store, sessions, fakeIssuer{}, notify, log, lifecycle.Config{
		VerificationTTL: 24 * time.Hour,
		ResetTTL:        time.Hour,
	})

	return &fixture{svc: svc, store: store, sessions: sessions, notify: notify}
}

func TestRegister_PersistsUnverifiedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.svc.Register(ctx, "Sam@Example.com", "password123", "Sam Doe")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if acct.Email != "sam@example.com" {
		t.Fatalf("expected lowercased email, got %s", acct.Email)
	}
	if acct.Verified {
		t.Fatalf("new account must start unverified")
	}

	found, err := f.store.GetByEmail(ctx, "sam@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}

	if found.PasswordHash == "" || found.PasswordHash == "password123" {
		t.Fatalf("password hash missing or stored in plaintext")
	}
	if err := security.CheckPassword(found.PasswordHash, "password123"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	call := f.notify.last(t)
	if call.kind != "verification" || call.token == "" {
		t.Fatalf("expected verification notification with token, got %+v", call)
	}
}

func TestRegister_EmptyFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name            string
		email, pw, disp string
	}{
		{"no email", "", "pw123456", "Sam"},
		{"no password", "sam@example.com", "", "Sam"},
		{"no name", "sam@example.com", "pw123456", "  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tc.email, tc.pw, tc.disp)
			if !errors.Is(err, account.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("first Register error: %v", err)
	}

	_, err := f.svc.Register(ctx, "SAM@example.com", "password456", "Impostor")
	if !errors.Is(err, account.ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	if n := f.store.Count(); n != 1 {
		t.Fatalf("expected exactly one account, got %d", n)
	}
}

func TestRegister_EnqueueFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.notify.fail = true
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if _, err := f.store.GetByEmail(ctx, "sam@example.com"); err != nil {
		t.Fatalf("account should be persisted despite enqueue failure: %v", err)
	}
}

func TestVerify_HappyPathAndSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token := f.notify.last(t).token

	acct, err := f.svc.Verify(ctx, token)
	if err != nil {
		t.Fatalf("Verify error: %v", err)
	}
	if !acct.Verified {
		t.Fatalf("expected verified account")
	}
	if acct.VerificationToken != nil {
		t.Fatalf("verification token must be cleared on success")
	}

	// replay: same token again must miss
	if _, err := f.svc.Verify(ctx, token); !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on replay, got %v", err)
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token := f.notify.last(t).token

	// jump the clock past the 24h window
	f.svc.WithClock(func() time.Time { return time.Now().UTC().Add(25 * time.Hour) })

	if _, err := f.svc.Verify(ctx, token); !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for expired token, got %v", err)
	}
}

func TestVerify_UnknownToken(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Verify(context.Background(), "no-such-token"); !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestVerify_ConcurrentConsumers_ExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	token := f.notify.last(t).token

	const racers = 8
	errs := make(chan error, racers)

	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < racers; i++ {
		go func() {
			start.Wait()
			_, err := f.svc.Verify(ctx, token)
			errs <- err
		}()
	}
	start.Done()

	var wins, misses int
	for i := 0; i < racers; i++ {
		err := <-errs
		switch {
		case err == nil:
			wins++
		case errors.Is(err, account.ErrTokenNotFound):
			misses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if wins != 1 || misses != racers-1 {
		t.Fatalf("expected exactly one winner, got wins=%d misses=%d", wins, misses)
	}
}

func TestLogin_SuccessUpdatesLastLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	acct, pair, err := f.svc.Login(ctx, "sam@example.com", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}

	if acct.LastLoginAt == nil {
		t.Fatalf("expected lastLoginAt to be set")
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", pair)
	}

	stored, err := f.store.GetByID(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if stored.LastLoginAt == nil {
		t.Fatalf("lastLoginAt not persisted")
	}

	if len(f.sessions.stored) != 1 {
		t.Fatalf("expected one stored refresh session, got %d", len(f.sessions.stored))
	}
}

func TestLogin_UnverifiedAccountMayLogIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if _, _, err := f.svc.Login(ctx, "sam@example.com", "password123"); err != nil {
		t.Fatalf("unverified login should succeed, got %v", err)
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "password123", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	_, _, err := f.svc.Login(ctx, "sam@example.com", "wrong-password")
	if !errors.Is(err, account.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Login(context.Background(), "ghost@example.com", "whatever")
	if !errors.Is(err, account.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRequestPasswordReset_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("expected nil for unknown email, got %v", err)
	}

	if len(f.notify.calls) != 0 {
		t.Fatalf("no notification expected for unknown email")
	}
}

func TestResetPassword_FullFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "sam@example.com", "oldpassword1", "Sam")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}

	if err := f.svc.RequestPasswordReset(ctx, "sam@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset error: %v", err)
	}

	call := f.notify.last(t)
	if call.kind != "reset" {
		t.Fatalf("expected reset notification, got %s", call.kind)
	}

	if err := f.svc.ResetPassword(ctx, call.token, "newpassword1"); err != nil {
		t.Fatalf("ResetPassword error: %v", err)
	}

	// old sessions revoked
	if len(f.sessions.revoked) != 1 || f.sessions.revoked[0] != reg.ID {
		t.Fatalf("expected sessions revoked for %s, got %v", reg.ID, f.sessions.revoked)
	}

	// new password works, old one does not
	if _, _, err := f.svc.Login(ctx, "sam@example.com", "newpassword1"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
	if _, _, err := f.svc.Login(ctx, "sam@example.com", "oldpassword1"); !errors.Is(err, account.ErrInvalidCredentials) {
		t.Fatalf("expected old password to be rejected, got %v", err)
	}

	// reset token is single use
	if err := f.svc.ResetPassword(ctx, call.token, "anotherpass1"); !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound on replay, got %v", err)
	}
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, "sam@example.com", "oldpassword1", "Sam"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := f.svc.RequestPasswordReset(ctx, "sam@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset error: %v", err)
	}
	token := f.notify.last(t).token

	// resets live for 1h
	f.svc.WithClock(func() time.Time { return time.Now().UTC().Add(2 * time.Hour) })

	if err := f.svc.ResetPassword(ctx, token, "newpassword1"); !errors.Is(err, account.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for expired token, got %v", err)
	}
}
