package security

import (
	"encoding/hex"
	"testing"
)

func TestRandomToken_LengthAndEncoding(t *testing.T) {
	tok, err := RandomToken()
	if err != nil {
		t.Fatalf("RandomToken error: %v", err)
	}

	if len(tok) != tokenBytes*2 {
		t.Fatalf("expected %d hex chars, got %d", tokenBytes*2, len(tok))
	}

	if _, err := hex.DecodeString(tok); err != nil {
		t.Fatalf("token is not valid hex: %v", err)
	}
}

func TestRandomToken_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 100)

	for i := 0; i < 100; i++ {
		tok, err := RandomToken()
		if err != nil {
			t.Fatalf("RandomToken error: %v", err)
		}
		if _, dup := seen[tok]; dup {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = struct{}{}
	}
}

func TestCheckPassword_RoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword error: %v", err)
	}

	if hash == "correct horse battery staple" {
		t.Fatalf("hash equals plaintext")
	}

	if err := CheckPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("expected match, got %v", err)
	}

	if err := CheckPassword(hash, "wrong password"); err == nil {
		t.Fatalf("expected mismatch error, got nil")
	}
}
