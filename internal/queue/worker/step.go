package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/authhub/internal/domain/delivery"
	"github.com/geocoder89/authhub/internal/domain/job"
	"github.com/geocoder89/authhub/internal/jobs"
	"github.com/geocoder89/authhub/internal/notifications"
)

// ProcessOne claims and runs a single job. The bool reports whether a job
// was claimed at all; an empty queue is not an error.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	j, err := w.repo.ClaimNext(claimCtx, w.cfg.WorkerID)
	cancel()

	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			return false, nil
		}
		return false, err
	}

	start := time.Now()
	if w.prom != nil {
		w.prom.JobsInFlight.Inc()
	}

	execErr := w.execute(ctx, j)

	if w.prom != nil {
		w.prom.JobsInFlight.Dec()
	}

	if execErr != nil {
		result := w.handleFailure(ctx, j, execErr)
		w.observeJob(j.Type, result, start)
		return true, nil
	}

	if err := w.repo.MarkDone(ctx, j.ID); err != nil {
		_ = w.repo.MarkFailed(ctx, j.ID, "mark_done_failed: "+err.Error())
		w.observeJob(j.Type, "failed", start)
		return true, err
	}

	w.observeJob(j.Type, "done", start)
	return true, nil
}

func (w *Worker) execute(ctx context.Context, j job.Job) error {
	t := jobs.JobType(j.Type)

	decoded, err := jobs.DecodePayload(t, j.Payload)

	if err != nil {
		return err
	}

	// decoded but missing required fields is just as unexecutable
	if err := jobs.ValidatePayload(t, decoded); err != nil {
		return err
	}

	switch p := decoded.(type) {
	case jobs.VerificationEmailPayload:
		return w.deliver(ctx, j.ID, string(t), p.Token, p.Email, func(sendCtx context.Context) error {
			return w.notifier.SendVerification(sendCtx, notifications.SendVerificationInput{
				Email:     p.Email,
				Name:      p.Name,
				AccountID: p.AccountID,
				Token:     p.Token,
			})
		})

	case jobs.PasswordResetEmailPayload:
		return w.deliver(ctx, j.ID, string(t), p.Token, p.Email, func(sendCtx context.Context) error {
			return w.notifier.SendPasswordReset(sendCtx, notifications.SendPasswordResetInput{
				Email:     p.Email,
				Name:      p.Name,
				AccountID: p.AccountID,
				Token:     p.Token,
			})
		})

	default:
		return fmt.Errorf("%w: %s", jobs.ErrInvalidJobType, j.Type)
	}
}

// deliver wraps a send in the dedupe table so a retried job cannot email the
// same token twice.
func (w *Worker) deliver(ctx context.Context, jobID, kind, token, recipient string, send func(context.Context) error) error {
	key := dedupeKey(token)

	err := w.deliveries.TryStart(ctx, kind, key, jobID, recipient)

	if err != nil {
		if errors.Is(err, delivery.ErrAlreadySent) {
			// a previous attempt got through; this retry is a no-op
			return nil
		}
		return err
	}

	if sendErr := send(ctx); sendErr != nil {
		_ = w.deliveries.MarkFailed(ctx, kind, key, sendErr.Error())
		return sendErr
	}

	return w.deliveries.MarkSent(ctx, kind, key, nil)
}

// dedupeKey fingerprints the token so the deliveries table never stores the
// raw secret.
func dedupeKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// handleFailure decides between retry-with-backoff and terminal failure, and
// returns the result label for metrics.
func (w *Worker) handleFailure(ctx context.Context, j job.Job, execErr error) string {
	// payload problems never fix themselves; fail terminally
	permanent := errors.Is(execErr, jobs.ErrInvalidJobType) || errors.Is(execErr, jobs.ErrInvalidJobPayload)

	if permanent || j.Attempts+1 >= j.MaxAttempts {
		if err := w.repo.MarkFailed(ctx, j.ID, execErr.Error()); err != nil {
			w.log.Error("mark failed error", "job_id", j.ID, "err", err)
		}
		w.log.Error("job failed", "job_id", j.ID, "type", j.Type, "attempts", j.Attempts+1, "err", execErr)
		return "failed"
	}

	runAt := time.Now().UTC().Add(ExponentialBackoff(j.Attempts))

	if err := w.repo.Reschedule(ctx, j.ID, runAt, execErr.Error()); err != nil {
		w.log.Error("reschedule error", "job_id", j.ID, "err", err)
	}
	w.log.Warn("job rescheduled", "job_id", j.ID, "type", j.Type, "attempt", j.Attempts+1, "run_at", runAt)
	return "retry"
}

func (w *Worker) observeJob(jobType, result string, start time.Time) {
	if w.prom == nil {
		return
	}

	w.prom.JobResults.WithLabelValues(jobType, result).Inc()
	w.prom.JobDuration.WithLabelValues(jobType, result).Observe(time.Since(start).Seconds())
}
