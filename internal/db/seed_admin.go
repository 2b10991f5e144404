package db

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/lifecycle"
	"github.com/geocoder89/authhub/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureAdminAccount seeds the operator account on boot when ADMIN_EMAIL and
// ADMIN_PASSWORD are set. The seeded account is pre-verified; no email is
// sent for it.
func EnsureAdminAccount(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}

	email := lifecycle.NormalizeEmail(cfg.AdminEmail)

	var dummy string

	err := pool.QueryRow(ctx, `SELECT id FROM accounts WHERE email = $1`, email).Scan(&dummy)

	if err == nil {
		return nil
	}

	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := security.HashPassword(cfg.AdminPassword)

	if err != nil {
		return err
	}

	now := time.Now().UTC()

	a := account.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Name:         cfg.AdminName,
		Role:         cfg.AdminRole,
		Verified:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, name, role, verified, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`,
		a.ID, a.Email, a.PasswordHash, a.Name, a.Role, a.Verified, a.CreatedAt, a.UpdatedAt,
	)

	return err
}
