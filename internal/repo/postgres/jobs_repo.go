package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/authhub/internal/domain/job"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJobNotFailed = errors.New("job is not failed")

const jobColumns = `id, type, payload, status, attempts, max_attempts, priority,
       run_at, locked_at, locked_by, last_error, idempotency_key, account_id,
       created_at, updated_at`

type JobsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom}
}

func (r *JobsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func scanJob(row pgx.Row) (job.Job, error) {
	var j job.Job
	var status string

	err := row.Scan(
		&j.ID, &j.Type, &j.Payload, &status,
		&j.Attempts, &j.MaxAttempts, &j.Priority,
		&j.RunAt, &j.LockedAt, &j.LockedBy,
		&j.LastError, &j.IdempotencyKey, &j.AccountID,
		&j.CreatedAt, &j.UpdatedAt,
	)

	if err != nil {
		return job.Job{}, err
	}

	j.Status = job.Status(status)
	return j, nil
}

func (r *JobsRepo) Create(ctx context.Context, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	op := "jobs.create"

	err := r.observe(op, func() error {
		_, execErr := r.pool.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			j.ID, j.Type, j.Payload, string(j.Status),
			j.Attempts, j.MaxAttempts, j.Priority,
			j.RunAt, j.LockedAt, j.LockedBy,
			j.LastError, j.IdempotencyKey, j.AccountID,
			j.CreatedAt, j.UpdatedAt,
		)
		return execErr
	})

	if err != nil {
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) CreateTx(ctx context.Context, tx pgx.Tx, req job.CreateRequest) (job.Job, error) {
	j := job.New(req)
	op := "jobs.create_tx"

	err := r.observe(op, func() error {
		_, execErr := tx.Exec(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`,
			j.ID, j.Type, j.Payload, string(j.Status),
			j.Attempts, j.MaxAttempts, j.Priority,
			j.RunAt, j.LockedAt, j.LockedBy,
			j.LastError, j.IdempotencyKey, j.AccountID,
			j.CreatedAt, j.UpdatedAt,
		)
		return execErr
	})

	if err != nil {
		return job.Job{}, err
	}
	return j, nil
}

// ClaimNext claims one runnable job using the SKIP LOCKED pattern: a single
// statement, so two workers can never claim the same row.
func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job
	op := "jobs.claim_next"

	err := r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM jobs
			WHERE status = 'pending'
			  AND run_at <= NOW()
			  AND attempts < max_attempts
			ORDER BY priority DESC, run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE jobs
		SET status = 'processing',
		    locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING `+jobColumns+`
		`, workerID))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound // nothing runnable
		}
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) MarkDone(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	op := "jobs.mark_done"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'done',
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1
		`, id)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	var tag pgconn.CommandTag
	op := "jobs.mark_failed"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $2,
		    updated_at = NOW()
		WHERE id = $1
		`, id, errMsg)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// Reschedule bumps the attempt counter and pushes run_at forward for a retry.
func (r *JobsRepo) Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error {
	var tag pgconn.CommandTag
	op := "jobs.reschedule"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = attempts + 1,
		    run_at = $2,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1
		`, id, runAt, errMsg)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job
	op := "jobs.get_by_id"

	err := r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = $1
		`, id))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

func (r *JobsRepo) GetByIdempotencyKey(ctx context.Context, key string) (job.Job, error) {
	var j job.Job
	op := "jobs.get_by_idempotency_key"

	err := r.observe(op, func() error {
		var scanErr error
		j, scanErr = scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE idempotency_key = $1
		`, key))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.Job{}, job.ErrJobNotFound
		}
		return job.Job{}, err
	}

	return j, nil
}

// RequeueStaleProcessing flips back jobs whose worker died mid-flight, i.e.
// the lock is older than the TTL.
func (r *JobsRepo) RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error) {
	secs := int64(lockTTL.Seconds())
	if secs <= 0 {
		secs = 30
	}

	var rows int64
	op := "jobs.requeue_stale"

	err := r.observe(op, func() error {
		tag, execErr := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    locked_at = NULL,
		    locked_by = NULL,
		    updated_at = NOW()
		WHERE status = 'processing'
		  AND locked_at IS NOT NULL
		  AND locked_at < NOW() - ($1 * INTERVAL '1 second')
		`, secs)

		if execErr != nil {
			return execErr
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}

// Admin ops endpoints

func (r *JobsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	op := "jobs.admin.list_cursor"

	base := `
		SELECT ` + jobColumns + `
		FROM jobs
	`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base + " WHERE " + strings.Join(conds, " AND ")

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	err = r.observe(op, func() error {
		rows, qErr := r.pool.Query(ctx, q, args...)

		if qErr != nil {
			return qErr
		}
		defer rows.Close()

		for rows.Next() {
			j, sErr := scanJob(rows)
			if sErr != nil {
				return sErr
			}
			items = append(items, j)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, nil, false, err
	}

	if len(items) == limitPlusOne {
		hasMore = true
		items = items[:limit]
	}

	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		cur, cErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if cErr != nil {
			return nil, nil, false, cErr
		}
		nextCursor = &cur
	}

	return items, nextCursor, hasMore, nil
}

// Retry resets a failed job for another round of attempts.
func (r *JobsRepo) Retry(ctx context.Context, id string) error {
	var tag pgconn.CommandTag
	op := "jobs.admin.retry"

	err := r.observe(op, func() error {
		var execErr error
		tag, execErr = r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = 0,
		    run_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
		`, id)
		return execErr
	})

	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// either missing or not failed; disambiguate for the handler
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrJobNotFailed
	}
	return nil
}

// RetryManyFailed requeues up to limit failed jobs, oldest first.
func (r *JobsRepo) RetryManyFailed(ctx context.Context, limit int) (int64, error) {
	var rows int64
	op := "jobs.admin.retry_many"

	err := r.observe(op, func() error {
		tag, execErr := r.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'pending',
		    attempts = 0,
		    run_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'failed'
			ORDER BY updated_at ASC
			LIMIT $1
		)
		`, limit)

		if execErr != nil {
			return execErr
		}
		rows = tag.RowsAffected()
		return nil
	})

	return rows, err
}
