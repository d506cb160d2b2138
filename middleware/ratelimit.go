package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimit applies a fixed-window request limit per authenticated user
// (falling back to client IP before auth), counted in redis with
// INCR + EXPIRE. A nil redis client disables the limiter entirely, so
// deployments without redis run unthrottled rather than broken.
func RateLimit(rdb *redis.Client, prefix string, limit int, window time.Duration) gin.HandlerFunc {
	if rdb == nil || limit <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		key := c.ClientIP()
		if uid, ok := UserID(c); ok {
			key = "u" + strconv.FormatUint(uint64(uid), 10)
		}
		redisKey := fmt.Sprintf("%s:%s", prefix, key)
		count, err := rdb.Incr(c.Request.Context(), redisKey).Result()
		if err != nil {
			// redis down must not take the API with it
			c.Next()
			return
		}
		if count == 1 {
			rdb.Expire(c.Request.Context(), redisKey, window)
		}
		if count > int64(limit) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
