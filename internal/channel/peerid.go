package channel

import (
	"strings"

	"github.com/google/uuid"
)

// PeerIDPrefix marks channel identities handed out by this program.
const PeerIDPrefix = "advancedrps-"

// NewPeerID returns a fresh identity to host or join a match under.
func NewPeerID() string {
	return PeerIDPrefix + uuid.NewString()
}

// ValidPeerID reports whether id looks like one NewPeerID would produce.
func ValidPeerID(id string) bool {
	rest, ok := strings.CutPrefix(id, PeerIDPrefix)
	return ok && rest != "" && len(id) <= 128
}
