package utils

import (
	"testing"
	"time"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 30, 0, 0, time.UTC)

	enc, err := EncodeJobCursor(at, "job-1")
	if err != nil {
		t.Fatalf("EncodeJobCursor error: %v", err)
	}

	dec, err := DecodeJobCursor(enc)
	if err != nil {
		t.Fatalf("DecodeJobCursor error: %v", err)
	}

	if !dec.UpdatedAt.Equal(at) || dec.ID != "job-1" {
		t.Fatalf("round trip mismatch: %+v", dec)
	}
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	cases := []string{"", "not-base64!!", "aGVsbG8"}

	for _, c := range cases {
		if _, err := DecodeJobCursor(c); err == nil {
			t.Fatalf("expected error for cursor %q", c)
		}
	}
}
