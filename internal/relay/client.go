package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one peer socket on the relay.
type Client struct {
	PeerID string
	Conn   *websocket.Conn

	hub         *Hub
	log         *slog.Logger
	connectedAt time.Time

	mu     sync.Mutex
	send   chan []byte
	closed bool
	room   *Room

	done chan struct{}
}

func NewClient(peerID string, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		PeerID:      peerID,
		Conn:        conn,
		hub:         hub,
		log:         logger.With("component", "relay_client", "peer_id", peerID),
		connectedAt: time.Now(),
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
	}
}

// Run registers the client as a host (empty target) or pairs it with
// target, then pumps frames until the socket closes.
func (c *Client) Run(target string) {
	go c.writePump()

	var err error
	if target == "" {
		err = c.hub.Host(c)
	} else {
		_, err = c.hub.Join(c, target)
	}
	if err != nil {
		c.enqueue(controlFrame(channel.FrameError, "", err.Error()))
		c.closeSend()
		<-c.done
		return
	}

	c.readPump()
	<-c.done
}

func (c *Client) setRoom(r *Room) {
	c.mu.Lock()
	c.room = r
	c.mu.Unlock()
}

func (c *Client) currentRoom() *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// enqueue queues msg for the write pump. A peer that cannot keep up is
// disconnected rather than silently losing frames.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.log.Warn("send buffer full, closing")
		c.closed = true
		close(c.send)
		return false
	}
}

// closeSend lets the write pump flush what is queued and close the socket.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.OnDisconnect(c)
		c.closeSend()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("read error", "error", err)
			}
			return
		}
		if _, ok := channel.ParseControl(msg); ok {
			c.log.Warn("peer sent a relay control frame, dropped")
			continue
		}
		room := c.currentRoom()
		if room == nil {
			c.log.Debug("frame before pairing dropped", "bytes", len(msg))
			continue
		}
		room.Forward(c, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		close(c.done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("write error", "error", err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func controlFrame(typ, peerID, reason string) []byte {
	var f channel.ControlFrame
	f.Type = typ
	f.Payload.PeerID = peerID
	f.Payload.Reason = reason
	data, _ := json.Marshal(f)
	return data
}
