package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"advanced_rps/internal/channel"
)

// TokenIssuer signs relay access tokens for a peer id.
type TokenIssuer interface {
	Issue(peerID string) (string, error)
}

// PeerDirectory knows which peer ids hold a relay connection.
type PeerDirectory interface {
	Online(peerID string) bool
}

type TokenHandler struct {
	issuer TokenIssuer
	peers  PeerDirectory
}

func NewTokenHandler(issuer TokenIssuer, peers PeerDirectory) *TokenHandler {
	return &TokenHandler{issuer: issuer, peers: peers}
}

// Token answers GET /token?peer_id=advancedrps-<id> with {"token": "..."}.
//
// Peers are anonymous, so this is not authentication. It is a rate-limited
// gate that hands out tokens which only open /ws under the id they name, and
// it refuses ids that are connected right now so a live peer's id cannot be
// taken over.
func (h *TokenHandler) Token(c *gin.Context) {
	peerID := c.Query("peer_id")
	if !channel.ValidPeerID(peerID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid peer_id"})
		return
	}
	if h.peers != nil && h.peers.Online(peerID) {
		c.JSON(http.StatusConflict, gin.H{"error": "peer_id in use"})
		return
	}

	token, err := h.issuer.Issue(peerID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}
