package integration

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/config"
	"advanced_rps/internal/game"
	httpserver "advanced_rps/internal/http"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/ledger/memledger"
	"advanced_rps/internal/relay"
	"advanced_rps/internal/session"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func startRelay(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := relay.NewTokens("e2e-secret", time.Hour)
	require.NoError(t, err)
	r := gin.New()
	httpserver.RegisterRoutes(r, relay.NewHub(), tokens, &config.Relay{
		Version:    "e2e",
		RateLimit:  1000,
		RateWindow: time.Minute,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, s *session.Session) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
}

func waitPhase(t *testing.T, s *session.Session, phase game.Phase) session.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return s.Snapshot().Phase == phase }, waitFor, tick, "want %s", phase)
	return s.Snapshot()
}

// connectThroughRelay hosts initiator under a fresh peer id and joins it
// from responder, the way two rpsplay processes would.
func connectThroughRelay(t *testing.T, base string, initiator, responder func(peerID string) *session.Session) (*session.Session, *session.Session) {
	t.Helper()
	hostID, guestID := channel.NewPeerID(), channel.NewPeerID()

	host, err := channel.NewRelayProvider(base, hostID, channel.FetchToken(base))
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })
	guest, err := channel.NewRelayProvider(base, guestID, channel.FetchToken(base))
	require.NoError(t, err)
	t.Cleanup(func() { guest.Close() })

	a := initiator(hostID)
	b := responder(guestID)
	host.OnIncomingConnection(func(ch channel.Channel) { require.NoError(t, a.Attach(ch)) })
	run(t, a)
	run(t, b)

	var ch channel.Channel
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		ch, err = guest.Connect(ctx, hostID)
		return !errors.Is(err, channel.ErrPeerUnavailable)
	}, waitFor, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, hostID, ch.PeerID())
	require.NoError(t, b.Attach(ch))
	return a, b
}

func TestCasualMatchOverRelay(t *testing.T) {
	ctx := context.Background()
	base := startRelay(t)

	alice, bob := connectThroughRelay(t, base,
		func(id string) *session.Session {
			s, err := session.New(session.Config{Role: game.Initiator, Variant: game.Casual, PeerID: id})
			require.NoError(t, err)
			return s
		},
		func(id string) *session.Session {
			s, err := session.New(session.Config{Role: game.Responder, Variant: game.Casual, PeerID: id})
			require.NoError(t, err)
			return s
		},
	)

	waitPhase(t, alice, game.AwaitingLocalWeapon)
	waitPhase(t, bob, game.AwaitingLocalWeapon)
	require.NoError(t, alice.SelectWeapon(ctx, game.Rock))
	require.NoError(t, bob.SelectWeapon(ctx, game.Scissors))
	assert.Equal(t, game.Player1Wins, waitPhase(t, alice, game.Resolved).Outcome)
	assert.Equal(t, game.Player1Wins, waitPhase(t, bob, game.Resolved).Outcome)

	require.NoError(t, alice.RequestRematch(ctx))
	require.NoError(t, bob.RequestRematch(ctx))
	waitPhase(t, alice, game.Connected)
	waitPhase(t, bob, game.Connected)
	require.NoError(t, bob.SelectWeapon(ctx, game.Spock))
	require.NoError(t, alice.SelectWeapon(ctx, game.Scissors))
	assert.Equal(t, game.Player2Wins, waitPhase(t, alice, game.Resolved).Outcome)
	assert.Equal(t, 2, bob.Snapshot().Round)

	require.NoError(t, bob.Close())
	snap := waitPhase(t, alice, game.Disconnected)
	assert.Equal(t, game.Resolved, snap.Waiting)
}

func TestEscrowedMatchOverRelay(t *testing.T) {
	ctx := context.Background()
	base := startRelay(t)

	aliceAddr := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddr := common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	stake, err := ledger.ParseEther("0.25")
	require.NoError(t, err)
	purse, err := ledger.ParseEther("1")
	require.NoError(t, err)

	chain := memledger.NewChain()
	chain.Fund(aliceAddr, purse)
	chain.Fund(bobAddr, purse)

	alice, bob := connectThroughRelay(t, base,
		func(id string) *session.Session {
			s, err := session.New(session.Config{
				Role: game.Initiator, Variant: game.Escrowed, PeerID: id,
				Ledger: chain.Wallet(aliceAddr, ledger.AutoApprove), Stake: stake,
				PollInterval: 50 * time.Millisecond,
			})
			require.NoError(t, err)
			return s
		},
		func(id string) *session.Session {
			s, err := session.New(session.Config{
				Role: game.Responder, Variant: game.Escrowed, PeerID: id,
				Ledger:       chain.Wallet(bobAddr, ledger.AutoApprove),
				PollInterval: 50 * time.Millisecond,
			})
			require.NoError(t, err)
			return s
		},
	)

	waitPhase(t, alice, game.AwaitingCommitment)
	require.NoError(t, alice.SelectWeapon(ctx, game.Lizard))
	waitPhase(t, bob, game.AwaitingLocalWeapon)
	assert.Equal(t, "0.25", ledger.FormatEther(bob.Snapshot().Stake))
	require.NoError(t, bob.SelectWeapon(ctx, game.Lizard))

	assert.Equal(t, game.Draw, waitPhase(t, alice, game.Resolved).Outcome)
	assert.Equal(t, game.Draw, waitPhase(t, bob, game.Resolved).Outcome)
	assert.Equal(t, purse.String(), chain.Balance(aliceAddr).String())
	assert.Equal(t, purse.String(), chain.Balance(bobAddr).String())
	assert.Equal(t, big.NewInt(0).String(), mustStake(t, chain, bobAddr, alice.Snapshot().Escrow))
}

func mustStake(t *testing.T, chain *memledger.Chain, who, escrow common.Address) string {
	t.Helper()
	e, err := chain.Wallet(who, ledger.AutoApprove).At(context.Background(), escrow)
	require.NoError(t, err)
	stake, err := e.CurrentStake(context.Background())
	require.NoError(t, err)
	return stake.String()
}
