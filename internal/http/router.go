// Package http assembles the API surface: middleware chain, route table and
// handler wiring. Everything stateful comes in through NewRouter's arguments.
package http

import (
	"context"
	"time"

	"github.com/geocoder89/authhub/internal/auth"
	"github.com/geocoder89/authhub/internal/config"
	"github.com/geocoder89/authhub/internal/http/handlers"
	"github.com/geocoder89/authhub/internal/http/middlewares"
	"github.com/geocoder89/authhub/internal/jobs"
	"github.com/geocoder89/authhub/internal/lifecycle"
	"github.com/geocoder89/authhub/internal/observability"
	"github.com/geocoder89/authhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"log/slog"
)

func NewRouter(cfg config.Config, log *slog.Logger, pool *pgxpool.Pool, rdb *redis.Client, prom *observability.Prom) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("authhub-api"))
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	r.Use(middlewares.RequireJSON())
	r.Use(middlewares.MaxBodyBytes(1 << 20)) // 1 MiB
	if prom != nil {
		r.Use(prom.GinHandleMiddleware())
	}

	// health + metrics
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	health := handlers.NewHealthHandler(ping)
	r.GET("/healthz", health.Healthz)
	r.GET("/readyz", health.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// repositories
	accountsRepo := postgres.NewAccountsRepo(pool, prom)
	refreshRepo := postgres.NewRefreshTokensRepo(pool)
	jobsRepo := postgres.NewJobsRepo(pool, prom)

	// services
	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	enqueuer := jobs.NewEnqueuer(jobsRepo)

	svc := lifecycle.NewService(accountsRepo, refreshRepo, jwtManager, enqueuer, log, lifecycle.Config{
		VerificationTTL: cfg.VerificationTTL(),
		ResetTTL:        cfg.ResetTTL(),
	})

	// abuse control: shared Redis window for logins, per-instance windows for
	// the other unauthenticated writes
	loginLimiter := middlewares.NewLoginLimiter(rdb, 10, time.Minute, log)
	signupLimiter := middlewares.NewRateLimiter(20, time.Minute)
	resetLimiter := middlewares.NewRateLimiter(10, time.Minute)

	authHandler := handlers.NewAuthHandler(svc, accountsRepo, jwtManager, refreshRepo, loginLimiter, prom, cfg)
	authMw := middlewares.NewAuthMiddleware(jwtManager)

	// account lifecycle
	r.POST("/signup", signupLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.SignUp)
	r.GET("/verify/:token", authHandler.VerifyEmail)
	r.POST("/login", loginLimiter.Middleware(), authHandler.Login)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.POST("/forgot-password", resetLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.ForgotPassword)
		authGroup.POST("/reset-password", resetLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.ResetPassword)
	}

	r.GET("/me", authMw.RequireAuth(), authHandler.Me)

	// ops surface
	adminJobs := handlers.NewAdminJobsHandler(jobsRepo)

	admin := r.Group("/admin", authMw.RequireAuth(), authMw.RequireRole("admin"))
	{
		admin.GET("/jobs", adminJobs.List)
		admin.GET("/jobs/:id", adminJobs.GetByID)
		admin.POST("/jobs/:id/retry", adminJobs.Retry)
		admin.POST("/jobs/reprocess-dead", adminJobs.ReprocessDead)
	}

	return r
}
