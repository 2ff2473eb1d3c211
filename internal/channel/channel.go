package channel

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed          = errors.New("channel closed")
	ErrPeerUnavailable = errors.New("peer unavailable")
)

// Handlers receive channel events. They are called from a single goroutine
// per channel, in the order the events happened; any of them may be nil.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Channel is an ordered, reliable, bidirectional message pipe to one peer.
type Channel interface {
	PeerID() string
	Send(ctx context.Context, data []byte) error
	// Listen installs handlers. Events that happened before Listen are
	// replayed, so an already open channel still reports OnOpen.
	Listen(h Handlers)
	Close() error
}

// Provider creates channels to peers addressed by id.
type Provider interface {
	ID() string
	Connect(ctx context.Context, peerID string) (Channel, error)
	OnIncomingConnection(fn func(Channel))
	Close() error
}

type eventKind int

const (
	evOpen eventKind = iota
	evMessage
	evError
	evClose
)

type event struct {
	kind eventKind
	data []byte
	err  error
}

// dispatcher queues events until handlers are installed and then delivers
// them one at a time. Nothing is delivered after the close event.
type dispatcher struct {
	mu      sync.Mutex
	pending []event
	h       *Handlers
	wake    chan struct{}
	closed  bool
}

func newDispatcher() *dispatcher {
	return &dispatcher{wake: make(chan struct{}, 1)}
}

func (d *dispatcher) push(ev event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if ev.kind == evClose {
		d.closed = true
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) listen(h Handlers) {
	d.mu.Lock()
	if d.h != nil {
		d.mu.Unlock()
		return
	}
	d.h = &h
	d.mu.Unlock()
	go d.run()
}

func (d *dispatcher) run() {
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				d.mu.Unlock()
				break
			}
			ev := d.pending[0]
			d.pending = d.pending[1:]
			h := d.h
			d.mu.Unlock()

			deliver(h, ev)
			if ev.kind == evClose {
				return
			}
		}
	}
}

func deliver(h *Handlers, ev event) {
	switch ev.kind {
	case evOpen:
		if h.OnOpen != nil {
			h.OnOpen()
		}
	case evMessage:
		if h.OnMessage != nil {
			h.OnMessage(ev.data)
		}
	case evError:
		if h.OnError != nil {
			h.OnError(ev.err)
		}
	case evClose:
		if h.OnClose != nil {
			h.OnClose()
		}
	}
}
