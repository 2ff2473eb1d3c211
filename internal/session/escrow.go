package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"advanced_rps/internal/domain"
	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/protocol"
)

// commitWeapon deploys the escrow with the hashed weapon and tells the
// responder where it is.
func (s *Session) commitWeapon(w game.Weapon) error {
	const op = "commit"
	if s.current() != game.AwaitingCommitment {
		return invalidState(op, "phase %s", s.rec.phase)
	}
	if s.rec.opponentAddr == (common.Address{}) {
		return invalidState(op, "responder address unknown")
	}

	commit, err := game.NewCommitment(w)
	if err != nil {
		return &Error{Reason: ReasonInvalidState, Op: op, Err: err}
	}
	escrow, err := s.cfg.Ledger.Commit(s.ctx, commit.Hash, s.rec.opponentAddr, s.rec.stake)
	if err != nil {
		LedgerFailures.WithLabelValues(op, string(ReasonOf(err))).Inc()
		return ledgerError(op, err)
	}

	s.commit = commit
	s.escrow = escrow
	s.rec.local = w
	s.rec.escrowAddr = escrow.Address()
	s.armFromLedger(game.AwaitingOpponentStake)
	s.advance(game.AwaitingOpponentStake)
	s.log.Info("escrow deployed", "escrow", escrow.Address().Hex(), "stake", ledger.FormatEther(s.rec.stake))

	msgs := []protocol.Message{
		protocol.EscrowAddress{Address: escrow.Address().Hex()},
		protocol.StakeAnnounce{Stake: s.rec.stake.String()},
	}
	if secs := int64(s.rec.timeoutWindow / time.Second); secs > 0 {
		msgs = append(msgs, protocol.TimeoutWindow{Seconds: secs})
	}
	for _, m := range msgs {
		if err := s.send(op, m); err != nil {
			return err
		}
	}
	return nil
}

// playWeapon matches the initiator's stake on the escrow.
func (s *Session) playWeapon(w game.Weapon) error {
	const op = "play"
	if s.current() != game.AwaitingLocalWeapon || s.escrow == nil {
		return invalidState(op, "phase %s", s.rec.phase)
	}

	if err := s.escrow.Play(s.ctx, w, s.rec.stake); err != nil {
		// A play that was mined after all shows up as c2 on the escrow.
		if onChain, rerr := s.escrow.ResponderWeapon(s.ctx); rerr == nil && onChain != game.None {
			s.log.Warn("play reported failure but escrow holds a weapon", "weapon", onChain.String(), "error", err)
			return s.responderPlayed(onChain)
		}
		LedgerFailures.WithLabelValues(op, string(ReasonOf(err))).Inc()
		return ledgerError(op, err)
	}
	return s.responderPlayed(w)
}

// responderPlayed records a confirmed play and replays an initiator reveal
// that arrived before it.
func (s *Session) responderPlayed(w game.Weapon) error {
	s.rec.local = w
	s.rec.lastErr = nil
	s.armFromLedger(game.AwaitingOpponentWeapon)
	s.advance(game.AwaitingOpponentWeapon)
	err := s.send("play", protocol.WeaponRevealed{Role: game.Responder, Weapon: w})
	if early := s.rec.earlyReveal; early != game.None {
		s.rec.earlyReveal = game.None
		s.initiatorRevealed(early)
	}
	return err
}

func (s *Session) onEscrowAddress(m protocol.EscrowAddress) {
	if s.cfg.Variant != game.Escrowed || s.cfg.Role != game.Responder {
		s.violation("escrow_address", errors.New("unexpected escrow address"))
		return
	}
	if s.escrow != nil {
		s.violation("escrow_address", errors.New("escrow already bound"))
		return
	}
	switch s.current() {
	case game.Connected, game.AwaitingCommitment:
	default:
		s.violation("escrow_address", fmt.Errorf("phase %s", s.rec.phase))
		return
	}
	s.bindEscrow(common.HexToAddress(m.Address))
}

// bindEscrow attaches to the initiator's escrow and adopts its stake and
// deadline. A failed bind is retried from the poll loop.
func (s *Session) bindEscrow(addr common.Address) {
	escrow, err := s.cfg.Ledger.At(s.ctx, addr)
	if err != nil {
		s.rec.pendingEscrow = addr
		s.log.Warn("bind escrow failed", "escrow", addr.Hex(), "error", err)
		return
	}
	st, err := ledger.ReadState(s.ctx, escrow)
	if err != nil {
		s.rec.pendingEscrow = addr
		s.log.Warn("read escrow failed", "escrow", addr.Hex(), "error", err)
		return
	}

	s.rec.pendingEscrow = common.Address{}
	s.escrow = escrow
	s.rec.escrowAddr = addr
	s.rec.stake = st.Stake
	s.rec.timeoutWindow = st.Timeout
	s.checkAnnouncedStake()
	s.log.Info("escrow bound", "escrow", addr.Hex(), "stake", ledger.FormatEther(st.Stake))

	if st.Settled() {
		s.rec.settled = SettlementByOpponent
		s.advance(game.Settled)
		return
	}
	s.arm(st.Deadline(), game.AwaitingLocalWeapon)
	s.advance(game.AwaitingLocalWeapon)
}

func (s *Session) onStakeAnnounce(m protocol.StakeAnnounce) {
	if s.cfg.Variant != game.Escrowed || s.cfg.Role != game.Responder {
		s.violation("stake_announce", errors.New("unexpected stake announcement"))
		return
	}
	wei, err := m.Wei()
	if err != nil {
		s.violation("stake_announce", err)
		return
	}
	s.rec.announcedStake = wei
	s.checkAnnouncedStake()
}

// checkAnnouncedStake flags a peer whose announced stake disagrees with the
// escrow. The escrow's value is the one that is played.
func (s *Session) checkAnnouncedStake() {
	if s.rec.announcedStake == nil || s.escrow == nil {
		return
	}
	if s.rec.announcedStake.Cmp(s.rec.stake) != 0 {
		s.violation("stake_announce", fmt.Errorf("announced %s wei, escrow holds %s wei", s.rec.announcedStake, s.rec.stake))
	}
}

func (s *Session) onTimeoutWindow(m protocol.TimeoutWindow) {
	if s.cfg.Variant != game.Escrowed {
		s.violation("timeout_window", errors.New("casual match has no escrow timeout"))
		return
	}
	if s.escrow != nil && s.rec.timeoutWindow > 0 && int64(s.rec.timeoutWindow/time.Second) != m.Seconds {
		s.log.Warn("peer timeout window differs from escrow", "peer_seconds", m.Seconds, "escrow", s.rec.timeoutWindow)
		return
	}
	s.log.Debug("timeout window", "seconds", m.Seconds)
}

// opponentPlayed handles the responder's weapon as seen by the initiator,
// either from the peer or from the escrow. The escrow is authoritative.
func (s *Session) opponentPlayed(w game.Weapon, fromLedger bool) {
	switch s.ledgerPhase() {
	case game.AwaitingOpponentStake:
	case game.AwaitingReveal:
		if w != s.rec.opponent {
			if fromLedger {
				s.log.Warn("escrow weapon differs from peer report", "peer", s.rec.opponent.String(), "escrow", w.String())
				s.rec.opponent = w
			} else {
				s.violation("weapon_revealed", fmt.Errorf("second weapon %s after %s", w, s.rec.opponent))
			}
		}
		if fromLedger && s.rec.revealDeferred {
			s.rec.revealDeferred = false
			s.armFromLedger(game.AwaitingReveal)
			s.autoReveal()
		}
		return
	default:
		duplicate := s.ledgerPhase() == game.Resolved && w == s.rec.opponent
		if !fromLedger && !duplicate {
			s.violation("weapon_revealed", fmt.Errorf("phase %s", s.rec.phase))
		}
		return
	}

	s.rec.opponent = w
	if !fromLedger {
		onChain, err := s.escrow.ResponderWeapon(s.ctx)
		switch {
		case err != nil || onChain == game.None:
			// Not visible on the escrow yet; the poll loop picks it up.
			s.rec.revealDeferred = true
		case onChain != w:
			s.log.Warn("escrow weapon differs from peer report", "peer", w.String(), "escrow", onChain.String())
			s.rec.opponent = onChain
		}
	}

	s.advance(game.AwaitingReveal)
	if s.rec.revealDeferred {
		return
	}
	s.armFromLedger(game.AwaitingReveal)
	s.autoReveal()
}

// autoReveal runs the reveal as soon as the responder has played. A failure
// is kept in the snapshot; Reveal retries it.
func (s *Session) autoReveal() {
	if s.rec.phase == game.Disconnected {
		return
	}
	if err := s.reveal(); err != nil {
		s.log.Warn("reveal failed", "reason", string(ReasonOf(err)), "error", err)
		s.setErr(err)
	}
}

func (s *Session) reveal() error {
	const op = "reveal"
	if s.cfg.Variant != game.Escrowed || s.cfg.Role != game.Initiator {
		return invalidState(op, "only the escrowed initiator reveals")
	}
	if s.ledgerPhase() != game.AwaitingReveal || s.commit == nil {
		return invalidState(op, "phase %s", s.rec.phase)
	}

	submitted := s.rec.revealSubmitted
	s.rec.revealSubmitted = true
	if err := s.escrow.Reveal(s.ctx, s.commit.Weapon, s.commit.Secret); err != nil {
		if !submitted && !mayHaveMined(err) {
			s.rec.revealSubmitted = false
		}
		if s.rec.revealSubmitted && s.escrowSettled() {
			s.log.Warn("reveal reported failure but escrow is settled", "error", err)
			return s.revealConfirmed()
		}
		LedgerFailures.WithLabelValues(op, string(ReasonOf(err))).Inc()
		return ledgerError(op, err)
	}
	return s.revealConfirmed()
}

func (s *Session) revealConfirmed() error {
	const op = "reveal"
	s.rec.revealDeferred = false
	s.rec.revealSubmitted = false
	s.rec.lastErr = nil

	outcome, err := s.outcomeOf()
	if err != nil {
		return &Error{Reason: ReasonInvalidState, Op: op, Err: err}
	}
	s.finish(outcome)

	if s.rec.phase == game.Disconnected {
		return nil
	}
	if err := s.send(op, protocol.WeaponRevealed{Role: game.Initiator, Weapon: s.rec.local}); err != nil {
		return err
	}
	return s.send(op, protocol.Winner{Outcome: outcome})
}

// mayHaveMined is false only for errors that guarantee the transaction
// never landed.
func mayHaveMined(err error) bool {
	return !errors.Is(err, ledger.ErrUserCancelled) && !errors.Is(err, ledger.ErrReverted)
}

func (s *Session) escrowSettled() bool {
	st, err := ledger.ReadState(s.ctx, s.escrow)
	return err == nil && st.Settled()
}

// initiatorRevealed is the responder learning the initiator's weapon.
func (s *Session) initiatorRevealed(w game.Weapon) {
	switch {
	case s.ledgerPhase() == game.AwaitingOpponentWeapon && s.rec.local != game.None:
	case s.current() == game.AwaitingLocalWeapon && s.escrow != nil && s.rec.earlyReveal == game.None:
		// Our play may be mined but not yet confirmed locally.
		s.log.Debug("initiator revealed before play confirmed", "weapon", w.String())
		s.rec.earlyReveal = w
		return
	case s.rec.phase == game.Settled && s.rec.settled == SettlementSolved && s.rec.outcome == game.Pending:
		s.rec.settled = SettlementNone
	default:
		s.violation("weapon_revealed", fmt.Errorf("initiator revealed in phase %s", s.rec.phase))
		return
	}
	s.rec.opponent = w
	outcome, err := s.outcomeOf()
	if err != nil {
		s.violation("weapon_revealed", err)
		return
	}
	s.finish(outcome)
}

// claimable reports whether a timeout claim would be accepted: the opponent
// let the deadline pass while it was their turn to act on the escrow.
func (s *Session) claimable() bool {
	if s.cfg.Variant != game.Escrowed || s.escrow == nil || !s.rec.expired || s.rec.settled != SettlementNone {
		return false
	}
	if s.rec.phase != game.TimedOut && s.rec.phase != game.Disconnected {
		return false
	}
	if s.cfg.Role == game.Initiator {
		return s.rec.waiting == game.AwaitingOpponentStake
	}
	return s.rec.waiting == game.AwaitingOpponentWeapon
}

func (s *Session) claimTimeout() error {
	const op = "claim_timeout"
	if !s.claimable() {
		return invalidState(op, "no claimable timeout in phase %s", s.rec.phase)
	}

	submitted := s.rec.claimSubmitted
	if !submitted && s.escrowSettled() {
		s.reconcileSettled()
		return invalidState(op, "escrow already settled")
	}

	s.rec.claimSubmitted = true
	var err error
	if s.cfg.Role == game.Initiator {
		err = s.escrow.ClaimInitiatorTimeout(s.ctx)
	} else {
		err = s.escrow.ClaimResponderTimeout(s.ctx)
	}
	if err != nil {
		if !submitted && !mayHaveMined(err) {
			s.rec.claimSubmitted = false
		}
		if s.rec.claimSubmitted && s.escrowSettled() {
			s.log.Warn("claim reported failure but escrow is settled", "error", err)
			s.claimSettled()
			return nil
		}
		LedgerFailures.WithLabelValues(op, string(ReasonOf(err))).Inc()
		return ledgerError(op, err)
	}
	s.claimSettled()
	return nil
}

func (s *Session) claimSettled() {
	s.rec.settled = SettlementClaimed
	s.rec.claimSubmitted = false
	s.rec.lastErr = nil
	s.disarm()
	s.log.Info("timeout claimed", "escrow", s.rec.escrowAddr.Hex())
	if s.cfg.Role == game.Initiator {
		s.archive(domain.MatchResultRefunded)
	} else {
		s.archive(domain.MatchResultClaimed)
	}
	s.rec.waiting = ""
	s.rec.expired = false
	s.setPhase(game.Settled)
}

// reconcileSettled attributes an escrow that paid out without a confirmed
// reveal on this side.
func (s *Session) reconcileSettled() {
	switch s.ledgerPhase() {
	case game.Resolved, game.Settled:
		return
	}
	switch {
	case s.rec.claimSubmitted:
		s.log.Info("timeout claim confirmed on escrow", "escrow", s.rec.escrowAddr.Hex())
		s.claimSettled()
		return
	case s.cfg.Role == game.Initiator && s.rec.revealSubmitted && s.ledgerPhase() == game.AwaitingReveal:
		s.log.Info("reveal confirmed on escrow", "escrow", s.rec.escrowAddr.Hex())
		if err := s.revealConfirmed(); err != nil {
			s.setErr(err)
		}
		return
	}

	result := domain.MatchResultForfeited
	if s.cfg.Role == game.Responder && s.rec.local != game.None {
		// The initiator's claim needs c2 unset, so only its reveal can pay
		// out once we played.
		s.log.Info("initiator solved escrow", "escrow", s.rec.escrowAddr.Hex())
		s.rec.settled = SettlementSolved
		result = domain.MatchResultSettled
	} else {
		s.log.Info("escrow settled by opponent", "escrow", s.rec.escrowAddr.Hex())
		s.rec.settled = SettlementByOpponent
	}
	s.disarm()
	s.archive(result)
	if s.rec.phase == game.Disconnected {
		s.rec.waiting = game.Settled
		s.rec.expired = false
	} else {
		s.advance(game.Settled)
	}
}

// poll re-reads the escrow and reconciles it with the record. It reports
// whether anything changed.
func (s *Session) poll() bool {
	if s.rec.phase == game.Settled {
		return false
	}
	if s.escrow == nil {
		if s.rec.pendingEscrow != (common.Address{}) && s.rec.phase != game.Disconnected {
			s.bindEscrow(s.rec.pendingEscrow)
			return s.escrow != nil
		}
		return false
	}
	switch s.ledgerPhase() {
	case game.Resolved, game.Settled:
		return false
	}

	st, err := ledger.ReadState(s.ctx, s.escrow)
	if err != nil {
		s.log.Debug("poll escrow failed", "error", err)
		return false
	}
	before := s.buildSnapshot()

	if st.ResponderWeapon != game.None {
		switch {
		case s.cfg.Role == game.Initiator:
			s.opponentPlayed(st.ResponderWeapon, true)
		case s.rec.local == game.None && s.ledgerPhase() == game.AwaitingLocalWeapon:
			s.log.Warn("adopting play found on escrow", "weapon", st.ResponderWeapon.String())
			if err := s.responderPlayed(st.ResponderWeapon); err != nil {
				s.log.Warn("announce play failed", "error", err)
				s.setErr(err)
			}
		}
	}

	if st.Settled() {
		s.reconcileSettled()
	}

	if !s.rec.deadline.IsZero() && !st.Settled() && !st.Deadline().Equal(s.rec.deadline) {
		s.log.Debug("deadline moved on escrow", "from", s.rec.deadline, "to", st.Deadline())
		s.rec.timeoutWindow = st.Timeout
		s.arm(st.Deadline(), s.ledgerPhase())
	}

	after := s.buildSnapshot()
	return before.Phase != after.Phase || before.Waiting != after.Waiting ||
		before.OpponentWeapon != after.OpponentWeapon || !before.Deadline.Equal(after.Deadline) ||
		before.Settlement != after.Settlement
}
