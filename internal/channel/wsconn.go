package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"advanced_rps/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Relay control frames. Everything else on a relayed socket is peer payload.
const (
	FramePaired   = "relay.paired"
	FramePeerLeft = "relay.peer_left"
	FrameError    = "relay.error"
)

// ControlFrame is sent by the relay, never by peers.
type ControlFrame struct {
	Type    string `json:"type"`
	Payload struct {
		PeerID string `json:"peer_id,omitempty"`
		Reason string `json:"reason,omitempty"`
	} `json:"payload"`
}

// ParseControl returns the frame if data is a relay control frame.
func ParseControl(data []byte) (ControlFrame, bool) {
	var f ControlFrame
	if err := json.Unmarshal(data, &f); err != nil || !strings.HasPrefix(f.Type, "relay.") {
		return ControlFrame{}, false
	}
	return f, true
}

// wsChannel runs a websocket with a read pump and a write pump. The socket
// is open once it exists; a peer_left frame or a read error closes it.
type wsChannel struct {
	peerID string
	conn   *websocket.Conn
	send   chan []byte
	events *dispatcher
	log    *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func newWSChannel(conn *websocket.Conn, peerID string) *wsChannel {
	c := &wsChannel{
		peerID: peerID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		events: newDispatcher(),
		log:    logger.With("component", "wschannel", "peer", peerID),
		done:   make(chan struct{}),
	}
	c.events.push(event{kind: evOpen})
	go c.writePump()
	go c.readPump()
	return c
}

func (c *wsChannel) PeerID() string { return c.peerID }

func (c *wsChannel) Listen(h Handlers) { c.events.listen(h) }

func (c *wsChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsChannel) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *wsChannel) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.events.push(event{kind: evError, err: err})
		}
		close(c.done)
		c.events.push(event{kind: evClose})
	})
}

func (c *wsChannel) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				c.shutdown(nil)
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.log.Warn("read error", "error", err)
					c.shutdown(err)
				} else {
					c.shutdown(nil)
				}
			}
			return
		}

		if f, ok := ParseControl(msg); ok {
			c.log.Debug("control frame", "type", f.Type)
			if f.Type == FramePeerLeft {
				c.shutdown(nil)
				return
			}
			continue
		}
		c.events.push(event{kind: evMessage, data: msg})
	}
}

func (c *wsChannel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Warn("write error", "error", err)
				c.shutdown(err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(err)
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.drain()
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// drain flushes frames queued before Close.
func (c *wsChannel) drain() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}
