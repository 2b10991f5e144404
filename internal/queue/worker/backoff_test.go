package worker

import (
	"testing"
	"time"
)

func TestExponentialBackoff_Grows(t *testing.T) {
	d0 := ExponentialBackoff(0)
	d3 := ExponentialBackoff(3)

	if d0 < 2*time.Second || d0 > 2*time.Second+time.Second {
		t.Fatalf("attempt 0: expected ~2s, got %v", d0)
	}
	if d3 < 16*time.Second {
		t.Fatalf("attempt 3: expected >= 16s, got %v", d3)
	}
}

func TestExponentialBackoff_Capped(t *testing.T) {
	d := ExponentialBackoff(30)

	if d > 5*time.Minute+time.Second {
		t.Fatalf("expected cap near 5m, got %v", d)
	}
}
