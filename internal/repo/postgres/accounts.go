package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, password_hash, name, role, verified,
       verification_token, verification_expires_at,
       reset_token, reset_expires_at,
       last_login_at, created_at, updated_at`

type AccountsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewAccountsRepo(pool *pgxpool.Pool, prom *observability.Prom) *AccountsRepo {
	return &AccountsRepo{pool: pool, prom: prom}
}

func (r *AccountsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func scanAccount(row pgx.Row) (account.Account, error) {
	var a account.Account

	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Name,
		&a.Role,
		&a.Verified,
		&a.VerificationToken,
		&a.VerificationExpiresAt,
		&a.ResetToken,
		&a.ResetExpiresAt,
		&a.LastLoginAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

// Create inserts a fresh account. The unique index on email is the only
// duplicate guard; a violation maps to account.ErrEmailTaken so two
// concurrent registrations can never both win.
func (r *AccountsRepo) Create(ctx context.Context, acct account.Account) (account.Account, error) {
	op := "accounts.create"

	err := r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			acct.ID, acct.Email, acct.PasswordHash, acct.Name, acct.Role, acct.Verified,
			acct.VerificationToken, acct.VerificationExpiresAt,
			acct.ResetToken, acct.ResetExpiresAt,
			acct.LastLoginAt, acct.CreatedAt, acct.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return account.Account{}, account.ErrEmailTaken
		}
		return account.Account{}, err
	}

	return acct, nil
}

func (r *AccountsRepo) GetByEmail(ctx context.Context, email string) (account.Account, error) {
	var a account.Account
	op := "accounts.get_by_email"

	err := r.observe(op, func() error {
		var scanErr error
		a, scanErr = scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
		`, email))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrAccountNotFound
		}
		return account.Account{}, err
	}

	return a, nil
}

func (r *AccountsRepo) GetByID(ctx context.Context, id string) (account.Account, error) {
	var a account.Account
	op := "accounts.get_by_id"

	err := r.observe(op, func() error {
		var scanErr error
		a, scanErr = scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrAccountNotFound
		}
		return account.Account{}, err
	}

	return a, nil
}

// ConsumeVerificationToken is the single-statement compare-and-clear from the
// concurrency contract: the WHERE clause checks token and expiry, the SET
// clears them, so only one of N concurrent consumers gets a row back.
func (r *AccountsRepo) ConsumeVerificationToken(ctx context.Context, token string, now time.Time) (account.Account, error) {
	var a account.Account
	op := "accounts.consume_verification_token"

	err := r.observe(op, func() error {
		var scanErr error
		a, scanErr = scanAccount(r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET verified = TRUE,
		    verification_token = NULL,
		    verification_expires_at = NULL,
		    updated_at = $2
		WHERE verification_token = $1
		  AND verification_expires_at > $2
		RETURNING `+accountColumns+`
		`, token, now))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// absent, already consumed and expired all look the same
			return account.Account{}, account.ErrTokenNotFound
		}
		return account.Account{}, err
	}

	return a, nil
}

func (r *AccountsRepo) SetResetToken(ctx context.Context, accountID, token string, expiresAt time.Time) error {
	var tag pgconn.CommandTag
	op := "accounts.set_reset_token"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE accounts
		SET reset_token = $2,
		    reset_expires_at = $3,
		    updated_at = NOW()
		WHERE id = $1
		`, accountID, token, expiresAt)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}

// ConsumeResetToken swaps in the new password hash and clears the reset pair
// in one conditional update, mirroring ConsumeVerificationToken.
func (r *AccountsRepo) ConsumeResetToken(ctx context.Context, token, newPasswordHash string, now time.Time) (account.Account, error) {
	var a account.Account
	op := "accounts.consume_reset_token"

	err := r.observe(op, func() error {
		var scanErr error
		a, scanErr = scanAccount(r.pool.QueryRow(ctx, `
		UPDATE accounts
		SET password_hash = $2,
		    reset_token = NULL,
		    reset_expires_at = NULL,
		    updated_at = $3
		WHERE reset_token = $1
		  AND reset_expires_at > $3
		RETURNING `+accountColumns+`
		`, token, newPasswordHash, now))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return account.Account{}, account.ErrTokenNotFound
		}
		return account.Account{}, err
	}

	return a, nil
}

func (r *AccountsRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	var tag pgconn.CommandTag
	op := "accounts.touch_last_login"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE accounts
		SET last_login_at = $2,
		    updated_at = $2
		WHERE id = $1
		`, accountID, at)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return account.ErrAccountNotFound
	}
	return nil
}
