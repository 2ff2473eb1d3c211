package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"advanced_rps/internal/logger"
)

// TokenSource returns a relay access token for peerID.
type TokenSource func(ctx context.Context, peerID string) (string, error)

// RelayProvider reaches peers through the relay server. The host side
// registers its id and waits; the joining side dials with the host's id as
// target. The relay answers both with a paired frame once they meet.
type RelayProvider struct {
	id     string
	base   *url.URL
	token  TokenSource
	dialer *websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	incoming func(Channel)
	hosting  bool
}

var _ Provider = (*RelayProvider)(nil)

// NewRelayProvider targets a relay at baseURL (http, https, ws or wss).
func NewRelayProvider(baseURL, id string, token TokenSource) (*RelayProvider, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"

	ctx, cancel := context.WithCancel(context.Background())
	return &RelayProvider{
		id:     id,
		base:   u,
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (p *RelayProvider) ID() string { return p.id }

func (p *RelayProvider) endpoint(ctx context.Context, target string) (string, error) {
	q := url.Values{}
	q.Set("peer_id", p.id)
	if target != "" {
		q.Set("target", target)
	}
	if p.token != nil {
		tok, err := p.token(ctx, p.id)
		if err != nil {
			return "", fmt.Errorf("relay token: %w", err)
		}
		q.Set("token", tok)
	}
	u := *p.base
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dial opens a socket and blocks until the relay pairs it.
func (p *RelayProvider) dial(ctx context.Context, target string) (Channel, error) {
	endpoint, err := p.endpoint(ctx, target)
	if err != nil {
		return nil, err
	}
	conn, resp, err := p.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("connect %s: %w", target, ErrPeerUnavailable)
		}
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("await pairing: %w", err)
		}
		f, ok := ParseControl(msg)
		if !ok {
			continue
		}
		switch f.Type {
		case FramePaired:
			if !stop() {
				return nil, ctx.Err()
			}
			return newWSChannel(conn, f.Payload.PeerID), nil
		case FrameError:
			conn.Close()
			if f.Payload.Reason == "peer_unavailable" {
				return nil, fmt.Errorf("connect %s: %w", target, ErrPeerUnavailable)
			}
			return nil, fmt.Errorf("relay: %s", f.Payload.Reason)
		}
	}
}

func (p *RelayProvider) Connect(ctx context.Context, peerID string) (Channel, error) {
	if peerID == "" || peerID == p.id {
		return nil, fmt.Errorf("connect %q: %w", peerID, ErrPeerUnavailable)
	}
	return p.dial(ctx, peerID)
}

// OnIncomingConnection registers the host socket on first use and hands
// the paired channel to fn.
func (p *RelayProvider) OnIncomingConnection(fn func(Channel)) {
	p.mu.Lock()
	p.incoming = fn
	start := !p.hosting
	p.hosting = true
	p.mu.Unlock()

	if start {
		go p.host()
	}
}

func (p *RelayProvider) host() {
	log := logger.With("component", "relay_provider", "peer_id", p.id)
	ch, err := p.dial(p.ctx, "")
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("host registration failed", "error", err)
		}
		return
	}

	p.mu.Lock()
	fn := p.incoming
	p.mu.Unlock()
	log.Info("peer joined", "remote", ch.PeerID())
	fn(ch)
}

func (p *RelayProvider) Close() error {
	p.cancel()
	return nil
}

// FetchToken asks the relay's /token endpoint for a token bound to peerID.
func FetchToken(baseURL string) TokenSource {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, peerID string) (string, error) {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/token")
		if err != nil {
			return "", err
		}
		switch u.Scheme {
		case "ws":
			u.Scheme = "http"
		case "wss":
			u.Scheme = "https"
		}
		u.RawQuery = url.Values{"peer_id": {peerID}}.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("token request: status %d", resp.StatusCode)
		}

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("token response: %w", err)
		}
		return body.Token, nil
	}
}
