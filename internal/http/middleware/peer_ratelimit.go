package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// PeerRateLimit limits requests per peer id (the peer_id query parameter)
// rather than per IP, so one address hosting several peers is not starved.
// It is a no-op without redis.
func PeerRateLimit(maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if redisClient == nil {
			c.Next()
			return
		}

		peerID := c.Query("peer_id")
		if peerID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "peer_id required"})
			return
		}

		key := "peer_rl:" + peerID + ":" + strconv.FormatInt(int64(window.Seconds()), 10)
		redisWindow(c, key, "peer:"+c.FullPath(), maxRequests, window)
	}
}
