package middlewares

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// LoginLimiter throttles credential-guessing across all API instances using a
// Redis fixed window keyed by client IP. It fails open: if Redis is down,
// logins still work and we log the degradation.
type LoginLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	log    *slog.Logger
}

func NewLoginLimiter(rdb *redis.Client, limit int, window time.Duration, log *slog.Logger) *LoginLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}

	return &LoginLimiter{rdb: rdb, limit: limit, window: window, log: log}
}

func (l *LoginLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l.rdb == nil {
			c.Next()
			return
		}

		key := "login_attempts:" + clientIP(c)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, ttl, err := l.bump(ctx, key)

		if err != nil {
			l.log.Warn("login limiter degraded", "err", err)
			c.Next()
			return
		}

		if count > int64(l.limit) {
			retryAfter := int(ttl.Seconds())
			if retryAfter <= 0 {
				retryAfter = int(l.window.Seconds())
			}

			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limited",
					"message": "Too many login attempts. Please try again shortly.",
				},
			})
			return
		}

		c.Next()
	}
}

// bump increments the window counter and sets its expiry on first hit, in one
// round trip.
func (l *LoginLimiter) bump(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := incr.Val()
	ttl := ttlCmd.Val()

	if count == 1 || ttl < 0 {
		if err := l.rdb.Expire(ctx, key, l.window).Err(); err != nil {
			return count, l.window, err
		}
		ttl = l.window
	}

	return count, ttl, nil
}

// Reset clears the counter after a successful login so legitimate users
// don't stay penalized for earlier typos.
func (l *LoginLimiter) Reset(ctx context.Context, ip string) {
	if l.rdb == nil {
		return
	}

	ip = strings.TrimSpace(ip)
	if ip == "" {
		return
	}

	if err := l.rdb.Del(ctx, "login_attempts:"+ip).Err(); err != nil {
		l.log.Warn("login limiter reset failed", "err", err)
	}
}
