package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/db"
	"github.com/geocoder89/authhub/internal/notifications"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/queue/worker"
	"github.com/geocoder89/authhub/internal/repo/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer(ctx, "authhub-worker", cfg.OTLPEndpoint)

		if err != nil {
			log.Error("tracer init failed", "err", err)
		} else {
			defer func() {
				sctx, cancel := config.WithTimeout(5 * time.Second)
				defer cancel()
				_ = shutdown(sctx)
			}()
		}
	}

	pool, err := db.NewPool(cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	prom := observability.NewProm(prometheus.DefaultRegisterer)

	jobsRepo := postgres.NewJobsRepo(pool, prom)
	deliveriesRepo := postgres.NewNotificationDeliveriesRepo(pool)

	// email sender behind a circuit breaker so a sick provider cannot keep
	// burning job attempts
	notifier := notifications.NewProtectedNotifier(
		notifications.NewLogNotifier(),
		notifications.ProtectedNotifierConfig{},
	)

	host, _ := os.Hostname()
	workerID := host + "-" + strconv.Itoa(os.Getpid())

	w := worker.New(worker.Config{
		PollInterval:  200 * time.Millisecond,
		WorkerID:      workerID,
		Concurrency:   4,
		LockTTL:       time.Minute,
		ShutdownGrace: 10 * time.Second,
	}, jobsRepo, deliveriesRepo, notifier, log, prom)

	// sidecar HTTP for probes + metrics
	mux := http.NewServeMux()
	mux.Handle("/", w.HealthHandler(pool))
	mux.Handle("/metrics", promhttp.Handler())

	healthSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health server starting", "port", cfg.Port)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "err", err)
		}
	}()

	log.Info("worker started", "worker_id", workerID)

	if err := w.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	_ = healthSrv.Shutdown(shutdownCtx)
	cancel()

	log.Info("worker shutdown complete")
}
