package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_VerificationEmail(t *testing.T) {
	payload := VerificationEmailPayload{
		AccountID: "acct-123",
		Email:     "sam@example.com",
		Name:      "Sam Doe",
		Token:     "deadbeef",
		ExpiresAt: time.Now().UTC().Add(24 * time.Hour),
	}

	b, err := EncodePayload(JobVerificationEmail, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	decoded, err := DecodePayload(JobVerificationEmail, b)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(VerificationEmailPayload)
	if !ok {
		t.Fatalf("expected VerificationEmailPayload, got %T", decoded)
	}

	if p.AccountID != payload.AccountID {
		t.Fatalf("expected accountId %s, got %s", payload.AccountID, p.AccountID)
	}
	if p.Token != payload.Token {
		t.Fatalf("expected token %s, got %s", payload.Token, p.Token)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(JobVerificationEmail, PasswordResetEmailPayload{
		AccountID: "acct-1",
		Email:     "sam@example.com",
		Token:     "tok",
	})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, ErrPayloadTypeMismatch) {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestEncodePayload_UnknownType(t *testing.T) {
	_, err := EncodePayload(JobType("email.unknown"), VerificationEmailPayload{})
	if !errors.Is(err, ErrInvalidJobType) {
		t.Fatalf("expected ErrInvalidJobType, got %v", err)
	}
}

func TestDecodePayload_EmptyPayload(t *testing.T) {
	_, err := DecodePayload(JobPasswordResetEmail, nil)
	if !errors.Is(err, ErrInvalidJobPayload) {
		t.Fatalf("expected ErrInvalidJobPayload, got %v", err)
	}
}

func TestValidatePayload_RequiredFields(t *testing.T) {
	err := ValidatePayload(JobVerificationEmail, VerificationEmailPayload{
		AccountID: "acct-1",
		Email:     "",
		Token:     "tok",
	})
	if err == nil {
		t.Fatalf("expected error for missing email")
	}

	err = ValidatePayload(JobPasswordResetEmail, PasswordResetEmailPayload{
		AccountID: "acct-1",
		Email:     "sam@example.com",
		Token:     "tok",
	})
	if err != nil {
		t.Fatalf("expected valid payload, got %v", err)
	}
}
