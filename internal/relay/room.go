package relay

import (
	"time"
)

// Room joins a host and a guest. Frames from one are written to the other
// unchanged and in order.
type Room struct {
	ID        string
	host      *Client
	guest     *Client
	createdAt time.Time
}

func newRoom(id string, host, guest *Client) *Room {
	return &Room{
		ID:        id,
		host:      host,
		guest:     guest,
		createdAt: time.Now(),
	}
}

func (r *Room) has(c *Client) bool { return r.host == c || r.guest == c }

func (r *Room) other(c *Client) *Client {
	if r.host == c {
		return r.guest
	}
	return r.host
}

// Forward relays one frame from c to its peer.
func (r *Room) Forward(from *Client, msg []byte) {
	to := r.other(from)
	if !to.enqueue(msg) {
		from.log.Warn("peer not accepting frames", "room", r.ID, "to", to.PeerID)
		return
	}
	FramesForwarded.Inc()
}
