package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/domain/account"
	"github.com/geocoder89/authhub/internal/http/middlewares"
	"github.com/geocoder89/authhub/internal/lifecycle"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
)

// LifecycleService is the slice of the lifecycle service the HTTP layer
// needs. Kept as an interface so handler tests can fake it.
type LifecycleService interface {
	Register(ctx context.Context, email, password, name string) (account.Account, error)
	Verify(ctx context.Context, token string) (account.Account, error)
	Login(ctx context.Context, email, password string) (account.Account, lifecycle.TokenPair, error)
	RequestPasswordReset(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

type AccountReader interface {
	GetByID(ctx context.Context, id string) (account.Account, error)
}

type AuthHandler struct {
	svc          LifecycleService
	accounts     AccountReader
	jwt          *auth.Manager
	refreshStore *postgres.RefreshTokensRepo
	limiter      *middlewares.LoginLimiter
	prom         *observability.Prom
	cfg          config.Config
}

func NewAuthHandler(
	svc LifecycleService,
	accounts AccountReader,
	jwtManager *auth.Manager,
	refreshStore *postgres.RefreshTokensRepo,
	limiter *middlewares.LoginLimiter,
	prom *observability.Prom,
	cfg config.Config,
) *AuthHandler {
	return &AuthHandler{
		svc:          svc,
		accounts:     accounts,
		jwt:          jwtManager,
		refreshStore: refreshStore,
		limiter:      limiter,
		prom:         prom,
		cfg:          cfg,
	}
}

type SignUpRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token" binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

// POST /signup
//
// Creates an unverified account and queues the verification email. No session
// is minted here; the client logs in separately.
func (h *AuthHandler) SignUp(ctx *gin.Context) {
	var req SignUpRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	acct, err := h.svc.Register(cctx, req.Email, req.Password, req.Name)

	if err != nil {
		switch {
		case errors.Is(err, account.ErrEmailTaken):
			RespondConflict(ctx, "email_taken", "Email is already in use.")
		case errors.Is(err, account.ErrValidation):
			RespondBadRequest(ctx, "Invalid signup data", nil)
		default:
			RespondInternal(ctx, "Could not create account")
		}
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"account": acct,
		"message": "Check your inbox for a verification link.",
	})
}

// GET /verify/:token
func (h *AuthHandler) VerifyEmail(ctx *gin.Context) {
	token := ctx.Param("token")

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	acct, err := h.svc.Verify(cctx, token)

	if err != nil {
		switch {
		case errors.Is(err, account.ErrValidation):
			RespondBadRequest(ctx, "Missing verification token", nil)
		case errors.Is(err, account.ErrTokenNotFound):
			// unknown, already-used and expired tokens all land here
			RespondNotFound(ctx, "Verification token is invalid or expired")
		default:
			RespondInternal(ctx, "Could not verify account")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"verified": true,
		"email":    acct.Email,
	})
}

// POST /login
func (h *AuthHandler) Login(ctx *gin.Context) {
	var req LoginRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	acct, pair, err := h.svc.Login(cctx, req.Email, req.Password)

	if err != nil {
		// unknown email and wrong password render identically
		if errors.Is(err, account.ErrAccountNotFound) ||
			errors.Is(err, account.ErrInvalidCredentials) ||
			errors.Is(err, account.ErrValidation) {
			h.countLogin("bad_credentials")
			RespondUnAuthorized(ctx, "invalid_credentials", "Email or password is incorrect.")
			return
		}

		RespondInternal(ctx, "Could not log in")
		return
	}

	h.countLogin("ok")

	if h.limiter != nil {
		h.limiter.Reset(cctx, ctx.ClientIP())
	}

	h.setRefreshCookie(ctx, pair.RefreshToken, pair.RefreshExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": pair.AccessToken,
		"account":     acct,
	})
}

// POST /auth/refresh
//
// Rotates the refresh token: row lock, revoke old, insert replacement, all in
// one transaction so a stolen-and-replayed token cannot fork the session.
func (h *AuthHandler) Refresh(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		RespondUnAuthorized(ctx, "no_refresh", "Missing refresh token")
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)

	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	defer func() { _ = tx.Rollback(cctx) }()

	row, err := h.refreshStore.GetForUpdate(cctx, tx, claims.JTI)

	if err != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if row.RevokedAt != nil {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	if time.Now().UTC().After(row.ExpiresAt) {
		RespondUnAuthorized(ctx, "expired_refresh", "Refresh token expired.")
		return
	}

	// hash must match the presented token (prevents token substitution)
	if row.TokenHash != h.jwt.HashRefreshToken(raw) {
		RespondUnAuthorized(ctx, "invalid_refresh", "Invalid refresh token")
		return
	}

	newRaw, newJTI, newExpiresAt, err := h.jwt.GenerateRefreshToken(row.AccountID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if err := h.refreshStore.Revoke(cctx, tx, row.ID, &newJTI); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	newRow := postgres.RefreshTokenRow{
		ID:        newJTI,
		AccountID: row.AccountID,
		TokenHash: h.jwt.HashRefreshToken(newRaw),
		ExpiresAt: newExpiresAt,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.refreshStore.Create(cctx, tx, newRow); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	if err := tx.Commit(cctx); err != nil {
		RespondInternal(ctx, "Could not refresh session")
		return
	}

	accessToken, err := h.jwt.GenerateAccessToken(row.AccountID, claims.Email, claims.Role)
	if err != nil {
		RespondInternal(ctx, "Could not generate access token")
		return
	}

	h.setRefreshCookie(ctx, newRaw, newExpiresAt)

	ctx.JSON(http.StatusOK, gin.H{
		"accessToken": accessToken,
	})
}

// POST /auth/logout
//
// Revokes the presented refresh token and clears the cookie. Always 204;
// logging out twice is not an error.
func (h *AuthHandler) Logout(ctx *gin.Context) {
	raw, err := ctx.Cookie(h.refreshCookieName())

	if err != nil || raw == "" {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	claims, err := h.jwt.VerifyRefreshToken(raw)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	tx, err := h.refreshStore.BeginTx(cctx)
	if err != nil {
		h.clearRefreshCookie(ctx)
		ctx.Status(http.StatusNoContent)
		return
	}
	defer func() { _ = tx.Rollback(cctx) }()

	// revoke that one token (idempotent)
	_ = h.refreshStore.Revoke(cctx, tx, claims.JTI, nil)
	_ = tx.Commit(cctx)

	h.clearRefreshCookie(ctx)
	ctx.Status(http.StatusNoContent)
}

// POST /auth/forgot-password
//
// Always 202: the response must not reveal whether the email exists.
func (h *AuthHandler) ForgotPassword(ctx *gin.Context) {
	var req ForgotPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	if err := h.svc.RequestPasswordReset(cctx, req.Email); err != nil {
		if errors.Is(err, account.ErrValidation) {
			RespondBadRequest(ctx, "Invalid email", nil)
			return
		}
		RespondInternal(ctx, "Could not process request")
		return
	}

	ctx.JSON(http.StatusAccepted, gin.H{
		"message": "If that email is registered, a reset link is on its way.",
	})
}

// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(ctx *gin.Context) {
	var req ResetPasswordRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	err := h.svc.ResetPassword(cctx, req.Token, req.Password)

	if err != nil {
		switch {
		case errors.Is(err, account.ErrValidation):
			RespondBadRequest(ctx, "Invalid reset data", nil)
		case errors.Is(err, account.ErrTokenNotFound):
			RespondNotFound(ctx, "Reset token is invalid or expired")
		default:
			RespondInternal(ctx, "Could not reset password")
		}
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"message": "Password updated. Please log in again.",
	})
}

// GET /me
func (h *AuthHandler) Me(ctx *gin.Context) {
	id, ok := middlewares.AccountIDFromContext(ctx)

	if !ok || id == "" {
		RespondUnAuthorized(ctx, "unauthorized", "Missing identity context")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	acct, err := h.accounts.GetByID(cctx, id)

	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound) {
			RespondNotFound(ctx, "Account not found")
			return
		}
		RespondInternal(ctx, "Could not load account")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"account": acct})
}

// Helpers

func (h *AuthHandler) countLogin(outcome string) {
	if h.prom != nil {
		h.prom.LoginOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (h *AuthHandler) refreshCookieName() string {
	return "refresh_token"
}

func (h *AuthHandler) setRefreshCookie(ctx *gin.Context, raw string, expiresAt time.Time) {
	secure := h.cfg.Env == "prod"
	maxAge := int(time.Until(expiresAt).Seconds())

	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		raw,
		maxAge,
		"/auth",
		"",
		secure,
		true, // HttpOnly
	)
}

func (h *AuthHandler) clearRefreshCookie(ctx *gin.Context) {
	secure := h.cfg.Env == "prod"

	ctx.SetSameSite(http.SameSiteStrictMode)
	ctx.SetCookie(
		h.refreshCookieName(),
		"",
		-1,
		"/auth",
		"",
		secure,
		true,
	)
}
