package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/authhub/internal/domain/delivery"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationDeliveriesRepo tracks one row per issued token so a retried
// job never emails the same link twice. Unique key: (kind, dedupe_key).
type NotificationDeliveriesRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationDeliveriesRepo(pool *pgxpool.Pool) *NotificationDeliveriesRepo {
	return &NotificationDeliveriesRepo{pool: pool}
}

// TryStart claims the delivery slot for this (kind, dedupeKey). Outcomes:
// nil (we own it and should send), delivery.ErrAlreadySent, or
// delivery.ErrInProgress.
func (r *NotificationDeliveriesRepo) TryStart(
	ctx context.Context,
	kind string,
	dedupeKey string,
	jobID string,
	recipient string,
) error {
	// 1) Insert if missing.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (kind, dedupe_key, job_id, recipient, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'sending', NOW(), NOW())
	`, kind, dedupeKey, jobID, recipient)

	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// 2) Row exists. If it failed before, claim the retry by flipping it back
	// to sending. Atomic: only one worker wins the flip.
	tag, uErr := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending',
		    job_id = $3,
		    recipient = $4,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2 AND status = 'failed'
	`, kind, dedupeKey, jobID, recipient)

	if uErr != nil {
		return uErr
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// 3) Not failed. Sent already, or another worker is mid-send.
	var status string
	var sentAt *time.Time

	qErr := r.pool.QueryRow(ctx, `
		SELECT status, sent_at
		FROM notification_deliveries
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, dedupeKey).Scan(&status, &sentAt)

	if qErr != nil {
		if errors.Is(qErr, pgx.ErrNoRows) {
			// row disappeared; let the caller retry
			return nil
		}
		return qErr
	}

	if sentAt != nil || status == "sent" {
		return delivery.ErrAlreadySent
	}

	return delivery.ErrInProgress
}

func (r *NotificationDeliveriesRepo) MarkSent(
	ctx context.Context,
	kind string,
	dedupeKey string,
	providerMessageID *string,
) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent',
		    sent_at = NOW(),
		    provider_message_id = $3,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, dedupeKey, providerMessageID)

	return err
}

func (r *NotificationDeliveriesRepo) MarkFailed(
	ctx context.Context,
	kind string,
	dedupeKey string,
	errMsg string,
) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $3,
		    updated_at = NOW()
		WHERE kind = $1 AND dedupe_key = $2
	`, kind, dedupeKey, errMsg)

	return err
}
