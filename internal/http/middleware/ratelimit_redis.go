package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"advanced_rps/internal/logger"
)

var redisClient *redis.Client

// InitRedisRateLimiter connects the shared limiter client. It returns false
// and leaves the limiter on its in-memory fallback when addr is empty or the
// server does not answer.
func InitRedisRateLimiter(addr, password string, db int) bool {
	if addr == "" {
		return false
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, rate limiting in memory", "addr", addr, "error", err)
		_ = client.Close()
		return false
	}
	redisClient = client
	return true
}

// RedisPinger exposes the limiter client to readiness checks. It is nil
// when redis is not in use.
func RedisPinger() func(ctx context.Context) error {
	if redisClient == nil {
		return nil
	}
	return func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
}

// RateLimit is a fixed-window limit per client IP. With redis it uses
// INCR/EXPIRE on rl:<window_seconds>:<ip> so that every relay instance
// shares the count; without it each instance counts on its own.
func RateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	fallback := SimpleRateLimit(maxRequests, window)
	return func(c *gin.Context) {
		if redisClient == nil {
			fallback(c)
			return
		}
		key := "rl:" + strconv.FormatInt(int64(window.Seconds()), 10) + ":" + c.ClientIP()
		redisWindow(c, key, c.FullPath(), maxRequests, window)
	}
}

// redisWindow counts one request against key and aborts with 429 past max.
// Redis errors let the request through.
func redisWindow(c *gin.Context, key, label string, maxRequests int, window time.Duration) {
	ctx := c.Request.Context()

	val, err := redisClient.Incr(ctx, key).Result()
	if err != nil {
		c.Header("X-RateLimit-Error", "redis-error")
		c.Next()
		return
	}
	if val == 1 {
		redisClient.Expire(ctx, key, window)
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
	c.Header("X-RateLimit-Remaining", strconv.FormatInt(max(0, int64(maxRequests)-val), 10))

	if val > int64(maxRequests) {
		RLBlocked.WithLabelValues(label).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": int(window.Seconds()),
		})
		return
	}

	RLRequests.WithLabelValues(label).Inc()
	c.Next()
}
