package channel

import (
	"context"
	"fmt"
	"sync"
)

// pipeEnd is one side of an in-process channel pair.
type pipeEnd struct {
	peerID string
	events *dispatcher
	remote *pipeEnd
	state  *pipeState
}

type pipeState struct {
	mu     sync.Mutex
	closed bool
}

// NewPipe returns two connected, already open channels. a is the side that
// talks to peer bID and b talks to aID.
func NewPipe(aID, bID string) (Channel, Channel) {
	st := &pipeState{}
	a := &pipeEnd{peerID: bID, events: newDispatcher(), state: st}
	b := &pipeEnd{peerID: aID, events: newDispatcher(), state: st}
	a.remote, b.remote = b, a
	a.events.push(event{kind: evOpen})
	b.events.push(event{kind: evOpen})
	return a, b
}

func (p *pipeEnd) PeerID() string { return p.peerID }

func (p *pipeEnd) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return ErrClosed
	}
	p.remote.events.push(event{kind: evMessage, data: append([]byte(nil), data...)})
	return nil
}

func (p *pipeEnd) Listen(h Handlers) { p.events.listen(h) }

func (p *pipeEnd) Close() error {
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.closed {
		return nil
	}
	p.state.closed = true
	p.events.push(event{kind: evClose})
	p.remote.events.push(event{kind: evClose})
	return nil
}

// Switchboard connects in-process providers by id.
type Switchboard struct {
	mu    sync.Mutex
	peers map[string]*LocalProvider
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{peers: make(map[string]*LocalProvider)}
}

// Provider registers id on the switchboard.
func (s *Switchboard) Provider(id string) *LocalProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &LocalProvider{id: id, board: s}
	s.peers[id] = p
	return p
}

func (s *Switchboard) lookup(id string) (*LocalProvider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[id]
	return p, ok
}

func (s *Switchboard) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}

// LocalProvider is a Provider backed by a Switchboard.
type LocalProvider struct {
	id    string
	board *Switchboard

	mu       sync.Mutex
	incoming func(Channel)
	backlog  []Channel
}

var _ Provider = (*LocalProvider)(nil)

func (p *LocalProvider) ID() string { return p.id }

func (p *LocalProvider) Connect(ctx context.Context, peerID string) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := p.board.lookup(peerID)
	if !ok {
		return nil, fmt.Errorf("connect %s: %w", peerID, ErrPeerUnavailable)
	}
	local, remote := NewPipe(p.id, peerID)
	target.accept(remote)
	return local, nil
}

func (p *LocalProvider) accept(ch Channel) {
	p.mu.Lock()
	fn := p.incoming
	if fn == nil {
		p.backlog = append(p.backlog, ch)
	}
	p.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

// OnIncomingConnection installs fn and hands it any connections that
// arrived before it was set.
func (p *LocalProvider) OnIncomingConnection(fn func(Channel)) {
	p.mu.Lock()
	p.incoming = fn
	backlog := p.backlog
	p.backlog = nil
	p.mu.Unlock()
	for _, ch := range backlog {
		fn(ch)
	}
}

func (p *LocalProvider) Close() error {
	p.board.remove(p.id)
	return nil
}
