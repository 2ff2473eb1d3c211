package relay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/logger"
)

var (
	ErrPeerUnavailable = errors.New("peer_unavailable")
	ErrPeerIDTaken     = errors.New("peer_id_taken")
)

// Hub keeps hosts waiting for a guest and the rooms of paired peers.
type Hub struct {
	mu      sync.Mutex
	hosts   map[string]*Client
	rooms   map[string]*Room
	byPeer  map[string]*Room
	roomSeq int64
	log     *slog.Logger
}

func NewHub() *Hub {
	return &Hub{
		hosts:  make(map[string]*Client),
		rooms:  make(map[string]*Room),
		byPeer: make(map[string]*Room),
		log:    logger.With("component", "relay_hub"),
	}
}

// Host parks c until a guest names its peer id as target.
func (h *Hub) Host(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.takenLocked(c.PeerID) {
		h.log.Warn("host rejected, id in use", "peer_id", c.PeerID)
		return ErrPeerIDTaken
	}
	h.hosts[c.PeerID] = c
	PeersWaiting.Set(float64(len(h.hosts)))
	h.log.Info("host waiting", "peer_id", c.PeerID, "waiting", len(h.hosts))
	return nil
}

// Join pairs c with the host registered as target and tells both sides.
func (h *Hub) Join(c *Client, target string) (*Room, error) {
	h.mu.Lock()

	if h.takenLocked(c.PeerID) {
		h.mu.Unlock()
		JoinFailures.WithLabelValues(ErrPeerIDTaken.Error()).Inc()
		return nil, ErrPeerIDTaken
	}
	host, ok := h.hosts[target]
	if !ok || host.PeerID == c.PeerID {
		h.mu.Unlock()
		JoinFailures.WithLabelValues(ErrPeerUnavailable.Error()).Inc()
		h.log.Info("join failed, no such host", "peer_id", c.PeerID, "target", target)
		return nil, ErrPeerUnavailable
	}

	h.roomSeq++
	room := newRoom(strconv.FormatInt(h.roomSeq, 10), host, c)
	delete(h.hosts, target)
	h.rooms[room.ID] = room
	h.byPeer[host.PeerID] = room
	h.byPeer[c.PeerID] = room
	host.setRoom(room)
	c.setRoom(room)

	PeersWaiting.Set(float64(len(h.hosts)))
	RoomsActive.Set(float64(len(h.rooms)))
	Pairings.Inc()
	h.mu.Unlock()

	h.log.Info("peers paired", "room", room.ID, "host", host.PeerID, "guest", c.PeerID)
	host.enqueue(controlFrame(channel.FramePaired, c.PeerID, ""))
	c.enqueue(controlFrame(channel.FramePaired, host.PeerID, ""))
	return room, nil
}

func (h *Hub) takenLocked(peerID string) bool {
	if _, ok := h.hosts[peerID]; ok {
		return true
	}
	_, ok := h.byPeer[peerID]
	return ok
}

// OnDisconnect removes c and closes the room it was in. The remaining peer
// gets a peer_left frame and its socket is closed after it.
func (h *Hub) OnDisconnect(c *Client) {
	h.mu.Lock()
	if host, ok := h.hosts[c.PeerID]; ok && host == c {
		delete(h.hosts, c.PeerID)
		PeersWaiting.Set(float64(len(h.hosts)))
		h.mu.Unlock()
		h.log.Info("host left before pairing", "peer_id", c.PeerID)
		return
	}

	room, ok := h.byPeer[c.PeerID]
	if !ok || !room.has(c) {
		h.mu.Unlock()
		return
	}
	delete(h.rooms, room.ID)
	delete(h.byPeer, room.host.PeerID)
	delete(h.byPeer, room.guest.PeerID)
	RoomsActive.Set(float64(len(h.rooms)))
	h.mu.Unlock()

	other := room.other(c)
	h.log.Info("peer left", "room", room.ID, "peer_id", c.PeerID, "remaining", other.PeerID)
	other.enqueue(controlFrame(channel.FramePeerLeft, c.PeerID, ""))
	other.closeSend()
}

// Online reports whether peerID is hosting or paired right now.
func (h *Hub) Online(peerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.takenLocked(peerID)
}

// Stats reports waiting hosts and open rooms.
func (h *Hub) Stats() (waiting, rooms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.hosts), len(h.rooms)
}

// StartCleanup drops hosts that waited longer than maxAge.
func (h *Hub) StartCleanup(ctx context.Context, every, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				h.cleanupStaleHosts(now, maxAge)
			}
		}
	}()
}

func (h *Hub) cleanupStaleHosts(now time.Time, maxAge time.Duration) {
	h.mu.Lock()
	var stale []*Client
	for id, c := range h.hosts {
		if now.Sub(c.connectedAt) > maxAge {
			delete(h.hosts, id)
			stale = append(stale, c)
		}
	}
	PeersWaiting.Set(float64(len(h.hosts)))
	h.mu.Unlock()

	for _, c := range stale {
		h.log.Info("cleaned up stale host", "peer_id", c.PeerID)
		c.enqueue(controlFrame(channel.FrameError, "", "expired"))
		c.closeSend()
	}
}
