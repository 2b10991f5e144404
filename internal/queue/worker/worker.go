package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/geocoder89/authhub/internal/domain/job"
	"github.com/geocoder89/authhub/internal/notifications"
	"github.com/geocoder89/authhub/internal/observability"
)

type JobsRepository interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	Reschedule(ctx context.Context, id string, runAt time.Time, errMsg string) error
	RequeueStaleProcessing(ctx context.Context, lockTTL time.Duration) (int64, error)
}

type Deliveries interface {
	TryStart(ctx context.Context, kind, dedupeKey, jobID, recipient string) error
	MarkSent(ctx context.Context, kind, dedupeKey string, providerMessageID *string) error
	MarkFailed(ctx context.Context, kind, dedupeKey, errMsg string) error
}

type Config struct {
	PollInterval  time.Duration
	WorkerID      string
	Concurrency   int
	LockTTL       time.Duration
	ShutdownGrace time.Duration
}

// Worker drains the jobs table and delivers notifications. One process can
// run several claim loops; the SKIP LOCKED claim keeps them from colliding.
type Worker struct {
	cfg        Config
	repo       JobsRepository
	deliveries Deliveries
	notifier   notifications.Notifier
	log        *slog.Logger
	prom       *observability.Prom

	readyMu sync.RWMutex
	ready   bool
}

func New(cfg Config, repo JobsRepository, deliveries Deliveries, notifier notifications.Notifier, log *slog.Logger, prom *observability.Prom) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}

	return &Worker{
		cfg:        cfg,
		repo:       repo,
		deliveries: deliveries,
		notifier:   notifier,
		log:        log,
		prom:       prom,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.setReady(true)
	defer w.setReady(false)

	var wg sync.WaitGroup

	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}

	// stale-lock janitor: puts back jobs whose worker died mid-flight
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.requeueLoop(ctx)
	}()

	<-ctx.Done()
	w.setReady(false)
	w.log.Info("worker shutting down", "grace", w.cfg.ShutdownGrace)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(w.cfg.ShutdownGrace):
		w.log.Error("worker shutdown grace exceeded")
		return nil
	}
}

func (w *Worker) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			// drain until the queue is empty, then go back to polling
			for {
				processed, err := w.ProcessOne(ctx)

				if err != nil {
					w.log.Error("process job failed", "err", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

func (w *Worker) requeueLoop(ctx context.Context) {
	interval := w.cfg.LockTTL / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			n, err := w.repo.RequeueStaleProcessing(ctx, w.cfg.LockTTL)

			if err != nil {
				w.log.Error("requeue stale jobs failed", "err", err)
				continue
			}
			if n > 0 {
				w.log.Warn("requeued stale jobs", "count", n)
			}
		}
	}
}

func (w *Worker) setReady(v bool) {
	w.readyMu.Lock()
	w.ready = v
	w.readyMu.Unlock()
}
