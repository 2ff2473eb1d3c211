package session

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"advanced_rps/internal/channel"
	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/ledger/memledger"
	"advanced_rps/internal/protocol"
)

var (
	aliceAddr = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bobAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

const pollEvery = 20 * time.Millisecond

func newChain(opts ...memledger.Option) *memledger.Chain {
	c := memledger.NewChain(opts...)
	c.Fund(aliceAddr, big.NewInt(100))
	c.Fund(bobAddr, big.NewInt(100))
	return c
}

func escrowedConfig(role game.Role, w ledger.Ledger, ch channel.Channel) Config {
	cfg := Config{
		Role:         role,
		Variant:      game.Escrowed,
		PeerID:       "advancedrps-" + string(role),
		Channel:      ch,
		Ledger:       w,
		PollInterval: pollEvery,
	}
	if role == game.Initiator {
		cfg.Stake = big.NewInt(10)
	}
	return cfg
}

// initiatorVsScript starts a real initiator against a scripted responder
// that has already announced bob's address.
func initiatorVsScript(t *testing.T, chain *memledger.Chain) (*Session, *memledger.Wallet, *scriptedPeer) {
	t.Helper()
	wallet := chain.Wallet(aliceAddr, ledger.AutoApprove)
	s, peer := initiatorWith(t, wallet)
	return s, wallet, peer
}

func initiatorWith(t *testing.T, l ledger.Ledger) (*Session, *scriptedPeer) {
	t.Helper()
	local, remote := channel.NewPipe("advancedrps-alice", "advancedrps-bob")
	s, err := New(escrowedConfig(game.Initiator, l, local))
	require.NoError(t, err)
	start(t, s)

	peer := newScriptedPeer(t, remote)
	peer.send(protocol.AddressAnnounce{Role: game.Responder, Identity: "advancedrps-bob", Address: bobAddr.Hex()})
	waitPhase(t, s, game.AwaitingCommitment)
	return s, peer
}

// lostReceipt mines the listed writes and then reports them as failed, like
// a receipt wait that timed out. With stale set, the next read of the
// responder's weapon after a lost write fails too.
type lostReceipt struct {
	ledger.Ledger
	methods map[string]bool
	stale   bool
}

func (l lostReceipt) Commit(ctx context.Context, hash common.Hash, opponent common.Address, stake *big.Int) (ledger.Escrow, error) {
	e, err := l.Ledger.Commit(ctx, hash, opponent, stake)
	if err != nil {
		return nil, err
	}
	return &lostReceiptEscrow{Escrow: e, lost: l}, nil
}

func (l lostReceipt) At(ctx context.Context, addr common.Address) (ledger.Escrow, error) {
	e, err := l.Ledger.At(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &lostReceiptEscrow{Escrow: e, lost: l}, nil
}

// lostReceiptEscrow is only touched from the session loop.
type lostReceiptEscrow struct {
	ledger.Escrow
	lost      lostReceipt
	staleRead bool
}

func (e *lostReceiptEscrow) lose(method string, err error) error {
	if err != nil || !e.lost.methods[method] {
		return err
	}
	e.staleRead = e.lost.stale
	return fmt.Errorf("%s: wait mined: %w", method, context.DeadlineExceeded)
}

func (e *lostReceiptEscrow) Play(ctx context.Context, w game.Weapon, stake *big.Int) error {
	return e.lose("play", e.Escrow.Play(ctx, w, stake))
}

func (e *lostReceiptEscrow) Reveal(ctx context.Context, w game.Weapon, secret *big.Int) error {
	return e.lose("reveal", e.Escrow.Reveal(ctx, w, secret))
}

func (e *lostReceiptEscrow) ClaimInitiatorTimeout(ctx context.Context) error {
	return e.lose("claim", e.Escrow.ClaimInitiatorTimeout(ctx))
}

func (e *lostReceiptEscrow) ClaimResponderTimeout(ctx context.Context) error {
	return e.lose("claim", e.Escrow.ClaimResponderTimeout(ctx))
}

func (e *lostReceiptEscrow) ResponderWeapon(ctx context.Context) (game.Weapon, error) {
	if e.staleRead {
		e.staleRead = false
		return game.None, errors.New("header not found")
	}
	return e.Escrow.ResponderWeapon(ctx)
}

func TestEscrowedHappyPath(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	board := channel.NewSwitchboard()
	host := board.Provider("advancedrps-alice")
	guest := board.Provider("advancedrps-bob")

	alice, err := New(escrowedConfig(game.Initiator, chain.Wallet(aliceAddr, ledger.AutoApprove), nil))
	require.NoError(t, err)
	bob, err := New(escrowedConfig(game.Responder, chain.Wallet(bobAddr, ledger.AutoApprove), nil))
	require.NoError(t, err)
	host.OnIncomingConnection(func(ch channel.Channel) { require.NoError(t, alice.Attach(ch)) })
	start(t, alice)
	start(t, bob)
	ch, err := guest.Connect(ctx, host.ID())
	require.NoError(t, err)
	require.NoError(t, bob.Attach(ch))

	waitPhase(t, alice, game.AwaitingCommitment)
	assert.Equal(t, bobAddr, alice.Snapshot().OpponentAddr)
	require.NoError(t, alice.SelectWeapon(ctx, game.Paper))
	snap := alice.Snapshot()
	assert.Equal(t, game.AwaitingOpponentStake, snap.Phase)
	assert.False(t, snap.Deadline.IsZero())
	assert.Equal(t, ledger.DefaultTimeout, snap.TimeoutWindow)

	bsnap := waitPhase(t, bob, game.AwaitingLocalWeapon)
	assert.Equal(t, snap.Escrow, bsnap.Escrow)
	assert.Equal(t, "10", bsnap.Stake.String())

	require.NoError(t, bob.SelectWeapon(ctx, game.Spock))

	a := waitPhase(t, alice, game.Resolved)
	b := waitPhase(t, bob, game.Resolved)
	assert.Equal(t, game.Player1Wins, a.Outcome, "paper disproves spock")
	assert.Equal(t, game.Player1Wins, b.Outcome)
	assert.Equal(t, game.Paper, b.OpponentWeapon)
	assert.Equal(t, game.Spock, a.OpponentWeapon)
	assert.True(t, a.Deadline.IsZero())

	assert.Equal(t, "110", chain.Balance(aliceAddr).String())
	assert.Equal(t, "90", chain.Balance(bobAddr).String())

	err = alice.RequestRematch(ctx)
	assert.Equal(t, ReasonInvalidState, ReasonOf(err), "no rematch over an escrow")
}

func TestInitiatorClaimsUnansweredEscrow(t *testing.T) {
	ctx := context.Background()
	chain := newChain(memledger.WithTimeout(150 * time.Millisecond))
	s, _, peer := initiatorVsScript(t, chain)

	require.NoError(t, s.SelectWeapon(ctx, game.Rock))
	assert.Equal(t, "90", chain.Balance(aliceAddr).String())
	peer.waitFor(protocol.TypeEscrowAddress)
	stake := peer.waitFor(protocol.TypeStakeAnnounce).(protocol.StakeAnnounce)
	assert.Equal(t, "10", stake.Stake)
	assert.False(t, s.Snapshot().Claimable)

	snap := waitPhase(t, s, game.TimedOut)
	assert.Equal(t, game.AwaitingOpponentStake, snap.Waiting)
	assert.True(t, snap.Claimable)

	require.NoError(t, s.ClaimTimeout(ctx))
	snap = s.Snapshot()
	assert.Equal(t, game.Settled, snap.Phase)
	assert.Equal(t, SettlementClaimed, snap.Settlement)
	assert.False(t, snap.Claimable)
	assert.Equal(t, "100", chain.Balance(aliceAddr).String())

	assert.Equal(t, ReasonInvalidState, ReasonOf(s.ClaimTimeout(ctx)))
}

func TestClaimAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	chain := newChain(memledger.WithTimeout(150 * time.Millisecond))
	s, _, peer := initiatorVsScript(t, chain)

	require.NoError(t, s.SelectWeapon(ctx, game.Lizard))
	require.NoError(t, peer.ch.Close())
	snap := waitPhase(t, s, game.Disconnected)
	assert.Equal(t, game.AwaitingOpponentStake, snap.Waiting)

	require.Eventually(t, func() bool { return s.Snapshot().Claimable }, waitFor, tick)
	require.NoError(t, s.ClaimTimeout(ctx))
	assert.Equal(t, game.Settled, s.Snapshot().Phase)
	assert.Equal(t, "100", chain.Balance(aliceAddr).String())
}

func TestCancelledSignatureKeepsState(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	s, wallet, _ := initiatorVsScript(t, chain)

	wallet.SetApprover(ledger.ApproverFunc(func(context.Context, ledger.TxRequest) error {
		return errors.New("rejected in wallet")
	}))
	err := s.SelectWeapon(ctx, game.Scissors)
	require.Error(t, err)
	assert.Equal(t, ReasonUserCancelled, ReasonOf(err))
	assert.ErrorIs(t, err, ledger.ErrUserCancelled)

	snap := s.Snapshot()
	assert.Equal(t, game.AwaitingCommitment, snap.Phase)
	assert.Equal(t, game.None, snap.LocalWeapon)
	assert.Equal(t, common.Address{}, snap.Escrow)
	assert.Equal(t, ReasonUserCancelled, ReasonOf(snap.LastError))
	assert.Equal(t, "100", chain.Balance(aliceAddr).String())

	wallet.SetApprover(ledger.AutoApprove)
	require.NoError(t, s.SelectWeapon(ctx, game.Scissors))
	assert.Equal(t, game.AwaitingOpponentStake, s.Snapshot().Phase)
	assert.Nil(t, s.Snapshot().LastError)
}

func TestInitiatorOrderingInvariance(t *testing.T) {
	for _, ledgerFirst := range []bool{true, false} {
		ctx := context.Background()
		chain := newChain()
		s, _, peer := initiatorVsScript(t, chain)
		require.NoError(t, s.SelectWeapon(ctx, game.Rock))
		addr := peer.waitFor(protocol.TypeEscrowAddress).(protocol.EscrowAddress)

		esc, err := chain.Wallet(bobAddr, ledger.AutoApprove).At(ctx, common.HexToAddress(addr.Address))
		require.NoError(t, err)
		violations := testutil.ToFloat64(ProtocolViolations.WithLabelValues("weapon_revealed"))

		if ledgerFirst {
			require.NoError(t, esc.Play(ctx, game.Spock, big.NewInt(10)))
			waitPhase(t, s, game.Resolved)
			peer.send(protocol.WeaponRevealed{Role: game.Responder, Weapon: game.Spock})
		} else {
			peer.send(protocol.WeaponRevealed{Role: game.Responder, Weapon: game.Spock})
			waitPhase(t, s, game.AwaitingReveal)
			assert.Equal(t, game.Spock, s.Snapshot().OpponentWeapon)
			require.NoError(t, esc.Play(ctx, game.Spock, big.NewInt(10)))
		}

		snap := waitPhase(t, s, game.Resolved)
		assert.Equal(t, game.Player2Wins, snap.Outcome, "ledger first: %v", ledgerFirst)
		assert.Equal(t, "90", chain.Balance(aliceAddr).String())
		assert.Equal(t, "110", chain.Balance(bobAddr).String())

		winner := peer.waitFor(protocol.TypeWinner).(protocol.Winner)
		assert.Equal(t, game.Player2Wins, winner.Outcome)
		revealed := peer.waitFor(protocol.TypeWeaponRevealed).(protocol.WeaponRevealed)
		assert.Equal(t, game.Rock, revealed.Weapon)
		assert.Equal(t, violations, testutil.ToFloat64(ProtocolViolations.WithLabelValues("weapon_revealed")))
	}
}

func TestEscrowWeaponOverridesPeerReport(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	s, _, peer := initiatorVsScript(t, chain)
	require.NoError(t, s.SelectWeapon(ctx, game.Paper))
	addr := peer.waitFor(protocol.TypeEscrowAddress).(protocol.EscrowAddress)

	esc, err := chain.Wallet(bobAddr, ledger.AutoApprove).At(ctx, common.HexToAddress(addr.Address))
	require.NoError(t, err)
	require.NoError(t, esc.Play(ctx, game.Scissors, big.NewInt(10)))
	peer.send(protocol.WeaponRevealed{Role: game.Responder, Weapon: game.Rock})

	snap := waitPhase(t, s, game.Resolved)
	assert.Equal(t, game.Scissors, snap.OpponentWeapon)
	assert.Equal(t, game.Player2Wins, snap.Outcome)
}

// responderVsScript deploys an escrow from alice's wallet and starts a real
// responder that is told about it by a scripted initiator.
func responderVsScript(t *testing.T, chain *memledger.Chain, w game.Weapon) (*Session, *game.Commitment, ledger.Escrow, *scriptedPeer) {
	t.Helper()
	return responderWith(t, chain, w, chain.Wallet(bobAddr, ledger.AutoApprove), pollEvery)
}

func responderWith(t *testing.T, chain *memledger.Chain, w game.Weapon, l ledger.Ledger, poll time.Duration) (*Session, *game.Commitment, ledger.Escrow, *scriptedPeer) {
	t.Helper()
	ctx := context.Background()
	commit, err := game.NewCommitment(w)
	require.NoError(t, err)
	esc, err := chain.Wallet(aliceAddr, ledger.AutoApprove).Commit(ctx, commit.Hash, bobAddr, big.NewInt(10))
	require.NoError(t, err)

	local, remote := channel.NewPipe("advancedrps-bob", "advancedrps-alice")
	cfg := escrowedConfig(game.Responder, l, local)
	cfg.PollInterval = poll
	s, err := New(cfg)
	require.NoError(t, err)
	start(t, s)

	peer := newScriptedPeer(t, remote)
	peer.send(protocol.AddressAnnounce{Role: game.Initiator, Identity: "advancedrps-alice", Address: aliceAddr.Hex()})
	peer.send(protocol.EscrowAddress{Address: esc.Address().Hex()})
	peer.send(protocol.StakeAnnounce{Stake: "10"})
	waitPhase(t, s, game.AwaitingLocalWeapon)
	return s, commit, esc, peer
}

func TestResponderClaimsUnrevealedEscrow(t *testing.T) {
	ctx := context.Background()
	chain := newChain(memledger.WithTimeout(250 * time.Millisecond))
	s, _, _, peer := responderVsScript(t, chain, game.Rock)

	require.NoError(t, s.SelectWeapon(ctx, game.Lizard))
	played := peer.waitFor(protocol.TypeWeaponRevealed).(protocol.WeaponRevealed)
	assert.Equal(t, game.Lizard, played.Weapon)

	snap := waitPhase(t, s, game.TimedOut)
	assert.Equal(t, game.AwaitingOpponentWeapon, snap.Waiting)
	require.True(t, snap.Claimable)

	require.NoError(t, s.ClaimTimeout(ctx))
	assert.Equal(t, game.Settled, s.Snapshot().Phase)
	assert.Equal(t, "110", chain.Balance(bobAddr).String())
	assert.Equal(t, "90", chain.Balance(aliceAddr).String())
}

func TestResponderLearnsOfRefund(t *testing.T) {
	ctx := context.Background()
	chain := newChain(memledger.WithTimeout(100 * time.Millisecond))
	s, _, esc, _ := responderVsScript(t, chain, game.Spock)

	require.Eventually(t, func() bool {
		return esc.ClaimInitiatorTimeout(ctx) == nil
	}, waitFor, 20*time.Millisecond)

	snap := waitPhase(t, s, game.Settled)
	assert.Equal(t, SettlementByOpponent, snap.Settlement)
	assert.Equal(t, game.Pending, snap.Outcome)
	assert.Equal(t, ReasonInvalidState, ReasonOf(s.SelectWeapon(ctx, game.Rock)))
}

func TestResponderRejectsMismatchedStakeAnnouncement(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	s, commit, esc, peer := responderVsScript(t, chain, game.Scissors)

	mismatches := testutil.ToFloat64(ProtocolViolations.WithLabelValues("stake_announce"))
	peer.send(protocol.StakeAnnounce{Stake: "7"})
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ProtocolViolations.WithLabelValues("stake_announce")) == mismatches+1
	}, waitFor, tick)

	// The escrow's stake is the one that gets matched.
	require.NoError(t, s.SelectWeapon(ctx, game.Paper))
	assert.Equal(t, "90", chain.Balance(bobAddr).String())

	require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))
	peer.send(protocol.WeaponRevealed{Role: game.Initiator, Weapon: game.Scissors})
	assert.Equal(t, game.Player1Wins, waitPhase(t, s, game.Resolved).Outcome)
}

func TestEscrowedCommandsOutOfTurn(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	s, _, _ := initiatorVsScript(t, chain)

	assert.Equal(t, ReasonInvalidState, ReasonOf(s.Reveal(ctx)))
	assert.Equal(t, ReasonInvalidState, ReasonOf(s.ClaimTimeout(ctx)))
	assert.Equal(t, ReasonInvalidState, ReasonOf(s.SelectWeapon(ctx, game.None)))
}

func TestInitiatorRevealMinedDespiteError(t *testing.T) {
	for _, stale := range []bool{false, true} {
		ctx := context.Background()
		chain := newChain()
		wallet := lostReceipt{Ledger: chain.Wallet(aliceAddr, ledger.AutoApprove), methods: map[string]bool{"reveal": true}, stale: stale}
		s, peer := initiatorWith(t, wallet)

		require.NoError(t, s.SelectWeapon(ctx, game.Paper))
		addr := peer.waitFor(protocol.TypeEscrowAddress).(protocol.EscrowAddress)
		esc, err := chain.Wallet(bobAddr, ledger.AutoApprove).At(ctx, common.HexToAddress(addr.Address))
		require.NoError(t, err)
		require.NoError(t, esc.Play(ctx, game.Spock, big.NewInt(10)))
		peer.send(protocol.WeaponRevealed{Role: game.Responder, Weapon: game.Spock})

		snap := waitPhase(t, s, game.Resolved)
		assert.Equal(t, game.Player1Wins, snap.Outcome, "stale: %v", stale)
		assert.Equal(t, SettlementNone, snap.Settlement)
		assert.Nil(t, snap.LastError)
		assert.Equal(t, "110", chain.Balance(aliceAddr).String())
		assert.Equal(t, "90", chain.Balance(bobAddr).String())

		winner := peer.waitFor(protocol.TypeWinner).(protocol.Winner)
		assert.Equal(t, game.Player1Wins, winner.Outcome)
		assert.Equal(t, ReasonInvalidState, ReasonOf(s.Reveal(ctx)))
	}
}

func TestClaimMinedDespiteError(t *testing.T) {
	for _, stale := range []bool{false, true} {
		ctx := context.Background()
		chain := newChain(memledger.WithTimeout(150 * time.Millisecond))
		wallet := lostReceipt{Ledger: chain.Wallet(aliceAddr, ledger.AutoApprove), methods: map[string]bool{"claim": true}, stale: stale}
		s, _ := initiatorWith(t, wallet)

		require.NoError(t, s.SelectWeapon(ctx, game.Rock))
		require.True(t, waitPhase(t, s, game.TimedOut).Claimable)

		err := s.ClaimTimeout(ctx)
		if stale {
			require.Error(t, err)
			assert.NotEqual(t, ReasonUserCancelled, ReasonOf(err))
		} else {
			require.NoError(t, err)
		}

		snap := waitPhase(t, s, game.Settled)
		assert.Equal(t, SettlementClaimed, snap.Settlement, "stale: %v", stale)
		assert.False(t, snap.Claimable)
		assert.Equal(t, "100", chain.Balance(aliceAddr).String())
	}
}

func TestResponderAdoptsMinedPlay(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	wallet := lostReceipt{Ledger: chain.Wallet(bobAddr, ledger.AutoApprove), methods: map[string]bool{"play": true}, stale: true}
	s, commit, esc, peer := responderWith(t, chain, game.Rock, wallet, pollEvery)

	require.Error(t, s.SelectWeapon(ctx, game.Lizard))
	assert.Equal(t, "90", chain.Balance(bobAddr).String())

	snap := waitPhase(t, s, game.AwaitingOpponentWeapon)
	assert.Equal(t, game.Lizard, snap.LocalWeapon)
	assert.Nil(t, snap.LastError)
	played := peer.waitFor(protocol.TypeWeaponRevealed).(protocol.WeaponRevealed)
	assert.Equal(t, game.Responder, played.Role)
	assert.Equal(t, game.Lizard, played.Weapon)

	require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))
	peer.send(protocol.WeaponRevealed{Role: game.Initiator, Weapon: game.Rock})
	assert.Equal(t, game.Player1Wins, waitPhase(t, s, game.Resolved).Outcome, "rock crushes lizard")
}

func TestResponderOrderingInvariance(t *testing.T) {
	for _, revealFirst := range []bool{false, true} {
		ctx := context.Background()
		chain := newChain()
		wallet := lostReceipt{Ledger: chain.Wallet(bobAddr, ledger.AutoApprove), methods: map[string]bool{}, stale: true}
		poll := pollEvery
		if revealFirst {
			wallet.methods["play"] = true
			poll = time.Hour
		}
		s, commit, esc, peer := responderWith(t, chain, game.Rock, wallet, poll)
		violations := testutil.ToFloat64(ProtocolViolations.WithLabelValues("weapon_revealed"))

		if revealFirst {
			require.Error(t, s.SelectWeapon(ctx, game.Lizard))
			require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))
			peer.send(protocol.WeaponRevealed{Role: game.Initiator, Weapon: game.Rock})

			// Messages are handled in order, so once the junk frame is
			// counted the reveal has been seen.
			dropped := testutil.ToFloat64(ProtocolViolations.WithLabelValues("decode"))
			peer.raw("not json")
			require.Eventually(t, func() bool {
				return testutil.ToFloat64(ProtocolViolations.WithLabelValues("decode")) == dropped+1
			}, waitFor, tick)
			assert.Equal(t, game.AwaitingLocalWeapon, s.Snapshot().Phase)

			require.NoError(t, s.SelectWeapon(ctx, game.Lizard))
		} else {
			require.NoError(t, s.SelectWeapon(ctx, game.Lizard))
			peer.waitFor(protocol.TypeWeaponRevealed)
			require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))
			peer.send(protocol.WeaponRevealed{Role: game.Initiator, Weapon: game.Rock})
		}

		snap := waitPhase(t, s, game.Resolved)
		assert.Equal(t, game.Player1Wins, snap.Outcome, "reveal first: %v", revealFirst)
		assert.Equal(t, game.Rock, snap.OpponentWeapon)
		assert.Equal(t, game.Lizard, snap.LocalWeapon)
		assert.Equal(t, SettlementNone, snap.Settlement)
		assert.Equal(t, "110", chain.Balance(aliceAddr).String())
		assert.Equal(t, "90", chain.Balance(bobAddr).String())

		played := peer.waitFor(protocol.TypeWeaponRevealed).(protocol.WeaponRevealed)
		assert.Equal(t, game.Lizard, played.Weapon)
		assert.Equal(t, violations, testutil.ToFloat64(ProtocolViolations.WithLabelValues("weapon_revealed")))
	}
}

func TestResponderSeesInitiatorSolve(t *testing.T) {
	ctx := context.Background()
	chain := newChain(memledger.WithTimeout(300 * time.Millisecond))
	s, commit, esc, peer := responderVsScript(t, chain, game.Scissors)

	require.NoError(t, s.SelectWeapon(ctx, game.Paper))
	peer.waitFor(protocol.TypeWeaponRevealed)
	require.NoError(t, peer.ch.Close())
	waitPhase(t, s, game.Disconnected)
	require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))

	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Settlement == SettlementSolved && snap.Waiting == game.Settled
	}, waitFor, tick)
	assert.Never(t, func() bool { return s.Snapshot().Claimable }, 500*time.Millisecond, tick)
	assert.Equal(t, ReasonInvalidState, ReasonOf(s.ClaimTimeout(ctx)))

	snap := s.Snapshot()
	assert.Equal(t, game.Disconnected, snap.Phase)
	assert.Equal(t, game.Pending, snap.Outcome)
	assert.True(t, snap.Deadline.IsZero())
	assert.Equal(t, "90", chain.Balance(bobAddr).String())
	assert.Equal(t, "110", chain.Balance(aliceAddr).String())
}

func TestResponderResolvesAfterSeeingSolve(t *testing.T) {
	ctx := context.Background()
	chain := newChain()
	s, commit, esc, peer := responderVsScript(t, chain, game.Scissors)

	require.NoError(t, s.SelectWeapon(ctx, game.Paper))
	require.NoError(t, esc.Reveal(ctx, commit.Weapon, commit.Secret))
	snap := waitPhase(t, s, game.Settled)
	assert.Equal(t, SettlementSolved, snap.Settlement)
	assert.False(t, snap.Claimable)

	peer.send(protocol.WeaponRevealed{Role: game.Initiator, Weapon: game.Scissors})
	snap = waitPhase(t, s, game.Resolved)
	assert.Equal(t, game.Player1Wins, snap.Outcome, "scissors cuts paper")
	assert.Equal(t, game.Scissors, snap.OpponentWeapon)
	assert.Equal(t, SettlementNone, snap.Settlement)
}
