package relay

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"advanced_rps/internal/logger"
)

// HandleWS upgrades /ws?peer_id=<id>[&target=<host id>]&token=<jwt>.
// Without a target the socket waits as a host; with one it joins that host.
// tokens may be nil to run the relay open.
func HandleWS(hub *Hub, tokens *Tokens, allowedOrigin string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == allowedOrigin
		},
	}

	return func(c *gin.Context) {
		peerID := c.Query("peer_id")
		if peerID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "peer_id required"})
			return
		}

		if tokens != nil {
			token := c.Query("token")
			if token == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
				return
			}
			owner, err := tokens.Parse(token)
			if err != nil || owner != peerID {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("ws upgrade error", "peer_id", peerID, "error", err)
			return
		}

		client := NewClient(peerID, conn, hub)
		go client.Run(c.Query("target"))
	}
}
