package notifications

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// LogNotifier is the dev/test provider: it logs that a send happened instead
// of talking to a mail service. Tokens are deliberately left out of the log
// line.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier { return &LogNotifier{} }

func (n *LogNotifier) SendVerification(ctx context.Context, in SendVerificationInput) error {
	if err := n.simulate(ctx); err != nil {
		return err
	}

	log.Printf("notification.verification email=%s name=%s account=%s", in.Email, in.Name, in.AccountID)
	return nil
}

func (n *LogNotifier) SendPasswordReset(ctx context.Context, in SendPasswordResetInput) error {
	if err := n.simulate(ctx); err != nil {
		return err
	}

	log.Printf("notification.password_reset email=%s name=%s account=%s", in.Email, in.Name, in.AccountID)
	return nil
}

func (n *LogNotifier) simulate(ctx context.Context) error {
	// Optional: simulate slow provider
	if msStr := os.Getenv("NOTIFIER_SLEEP_MS"); msStr != "" {
		ms, _ := strconv.Atoi(msStr)
		if ms > 0 {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	// Optional: simulate provider outage
	if os.Getenv("NOTIFIER_FAIL") == "1" {
		return fmt.Errorf("provider down (simulated)")
	}

	return nil
}
