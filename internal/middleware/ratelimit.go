package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mdraihan27/maildoor/internal/service"
	appErrors "github.com/mdraihan27/maildoor/pkg/errors"
	"github.com/mdraihan27/maildoor/pkg/response"
)

// RateLimitPerKey throttles requests per authenticated API key using a Redis
// fixed window counter. Redis outages fail open: throttling is protection,
// not a correctness guarantee.
func RateLimitPerKey(client *redis.Client, window time.Duration, max int, metrics *service.MetricsService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || max <= 0 {
			c.Next()
			return
		}
		key := AuthenticatedKey(c)
		if key == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		counter := fmt.Sprintf("ratelimit:apikey:%s", key.ID)

		// Pipelined so the expiry rides with the increment. EXPIRE NX also
		// re-arms a counter whose window was lost, so a key can never stay
		// throttled past one window.
		var incr *redis.IntCmd
		_, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, counter)
			pipe.ExpireNX(ctx, counter, window)
			return nil
		})
		if err != nil {
			logger.Warn("rate limiter unavailable, allowing request",
				zap.String("key_id", key.ID), zap.Error(err))
			c.Next()
			return
		}

		if count := incr.Val(); count > int64(max) {
			if metrics != nil {
				metrics.ObserveRateLimited()
			}
			retryAfter, err := client.TTL(ctx, counter).Result()
			if err == nil && retryAfter > 0 {
				c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())))
			}
			response.Error(c, appErrors.ErrRateLimitExceeded)
			c.Abort()
			return
		}
		c.Next()
	}
}
