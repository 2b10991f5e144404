package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/geocoder89/authhub/internal/config"
	apphttp "github.com/geocoder89/authhub/internal/http"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// These tests need a real Postgres with the authhub schema loaded. They skip
// unless TEST_DB_DSN is set, so the unit suite stays self-contained.

func setupTestRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping integration test")
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{
		Env:                  "test",
		JWTSecret:            "test-secret-key",
		JWTAccessTTLMinutes:  60,
		JWTRefreshTTLDays:    7,
		VerificationTTLHours: 24,
		ResetTTLMinutes:      60,
	}

	// nil redis: the login limiter fails open
	router := apphttp.NewRouter(cfg, logger, pool, nil, nil)

	return router, pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE refresh_tokens, notification_deliveries, jobs, accounts
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func doRequest(router http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))

	if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
		req.Header.Set("Content-Type", "application/json")
	}

	for _, c := range cookies {
		req.AddCookie(c)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func refreshCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range w.Result().Cookies() {
		if c.Name == "refresh_token" && c.Value != "" {
			return c
		}
	}

	t.Fatalf("refresh_token cookie not found")
	return nil
}

func verificationTokenFor(t *testing.T, pool *pgxpool.Pool, email string) string {
	t.Helper()

	var token *string
	err := pool.QueryRow(context.Background(),
		`SELECT verification_token FROM accounts WHERE email = $1`, email).Scan(&token)
	if err != nil {
		t.Fatalf("fetching verification token: %v", err)
	}
	if token == nil {
		t.Fatal("account has no pending verification token")
	}
	return *token
}

func resetTokenFor(t *testing.T, pool *pgxpool.Pool, email string) string {
	t.Helper()

	var token *string
	err := pool.QueryRow(context.Background(),
		`SELECT reset_token FROM accounts WHERE email = $1`, email).Scan(&token)
	if err != nil {
		t.Fatalf("fetching reset token: %v", err)
	}
	if token == nil {
		t.Fatal("account has no pending reset token")
	}
	return *token
}

func TestFullAccountLifecycle(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)

	const email = "ada@example.com"

	// signup
	w := doRequest(router, http.MethodPost, "/signup",
		`{"email":"Ada@Example.com","password":"correct-horse","name":"Ada"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: got %d, body=%s", w.Code, w.Body.String())
	}

	// email is stored lowercase; a verification job is queued
	var jobCount int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM jobs WHERE type = 'email.verification'`).Scan(&jobCount); err != nil {
		t.Fatalf("counting jobs: %v", err)
	}
	if jobCount != 1 {
		t.Fatalf("expected 1 verification job, got %d", jobCount)
	}

	// duplicate signup conflicts, case-insensitively
	w = doRequest(router, http.MethodPost, "/signup",
		`{"email":"ADA@example.com","password":"other-password","name":"Imposter"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup: got %d, body=%s", w.Code, w.Body.String())
	}

	// login works before verification
	w = doRequest(router, http.MethodPost, "/login",
		`{"email":"ada@example.com","password":"correct-horse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("pre-verify login: got %d, body=%s", w.Code, w.Body.String())
	}

	// verify
	token := verificationTokenFor(t, pool, email)

	w = doRequest(router, http.MethodGet, "/verify/"+token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("verify: got %d, body=%s", w.Code, w.Body.String())
	}

	// second use of the same token is gone
	w = doRequest(router, http.MethodGet, "/verify/"+token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("verify replay: got %d, want 404", w.Code)
	}

	// login and keep the session
	w = doRequest(router, http.MethodPost, "/login",
		`{"email":"ada@example.com","password":"correct-horse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: got %d, body=%s", w.Code, w.Body.String())
	}

	var loginResp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if loginResp.AccessToken == "" {
		t.Fatal("login returned no access token")
	}

	cookie := refreshCookie(t, w)

	// /me with the access token
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("/me: got %d, body=%s", rec.Code, rec.Body.String())
	}

	// request a reset; response is the same whether the email exists or not
	w = doRequest(router, http.MethodPost, "/auth/forgot-password", `{"email":"ada@example.com"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("forgot-password: got %d, body=%s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("forgot-password unknown email: got %d, body=%s", w.Code, w.Body.String())
	}

	// reset the password
	reset := resetTokenFor(t, pool, email)

	w = doRequest(router, http.MethodPost, "/auth/reset-password",
		`{"token":"`+reset+`","password":"new-password-9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reset-password: got %d, body=%s", w.Code, w.Body.String())
	}

	// reset token is single-use
	w = doRequest(router, http.MethodPost, "/auth/reset-password",
		`{"token":"`+reset+`","password":"another-pass-1"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("reset replay: got %d, want 404", w.Code)
	}

	// old password no longer works, new one does
	w = doRequest(router, http.MethodPost, "/login",
		`{"email":"ada@example.com","password":"correct-horse"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("old password after reset: got %d, want 401", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/login",
		`{"email":"ada@example.com","password":"new-password-9"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("new password login: got %d, body=%s", w.Code, w.Body.String())
	}

	// the pre-reset refresh token was revoked
	w = doRequest(router, http.MethodPost, "/auth/refresh", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("revoked refresh: got %d, want 401", w.Code)
	}
}

func TestRefreshRotation(t *testing.T) {
	router, pool := setupTestRouter(t)
	resetDB(t, pool)

	w := doRequest(router, http.MethodPost, "/signup",
		`{"email":"rot@example.com","password":"correct-horse","name":"Rot"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: got %d, body=%s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodPost, "/login",
		`{"email":"rot@example.com","password":"correct-horse"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: got %d, body=%s", w.Code, w.Body.String())
	}

	first := refreshCookie(t, w)

	// rotate
	w = doRequest(router, http.MethodPost, "/auth/refresh", "", first)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: got %d, body=%s", w.Code, w.Body.String())
	}
	second := refreshCookie(t, w)

	if first.Value == second.Value {
		t.Fatal("refresh must rotate the token")
	}

	// the replaced token is dead
	w = doRequest(router, http.MethodPost, "/auth/refresh", "", first)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: got %d, want 401", w.Code)
	}

	// the new one still works
	w = doRequest(router, http.MethodPost, "/auth/refresh", "", second)
	if w.Code != http.StatusOK {
		t.Fatalf("second refresh: got %d, body=%s", w.Code, w.Body.String())
	}

	// logout revokes and clears
	third := refreshCookie(t, w)

	w = doRequest(router, http.MethodPost, "/auth/logout", "", third)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout: got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/auth/refresh", "", third)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout: got %d, want 401", w.Code)
	}
}
