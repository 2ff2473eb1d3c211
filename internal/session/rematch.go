package session

import (
	"advanced_rps/internal/game"
	"advanced_rps/internal/protocol"
)

func (s *Session) requestRematch() error {
	const op = "rematch"
	if s.cfg.Variant != game.Casual {
		return invalidState(op, "rematch is only offered in casual matches")
	}
	if s.rec.phase != game.Resolved {
		return invalidState(op, "phase %s", s.rec.phase)
	}
	if s.rec.localRematch {
		return nil
	}
	if err := s.send(op, protocol.RematchRequest{Round: s.rec.round}); err != nil {
		return err
	}
	s.rec.localRematch = true
	s.maybeRematch()
	return nil
}

// onRematchRequest records the peer's intent in any phase; the peer may
// have resolved the round before this side did.
func (s *Session) onRematchRequest(m protocol.RematchRequest) {
	if s.cfg.Variant != game.Casual {
		s.violation("rematch_request", invalidState("rematch", "escrowed match"))
		return
	}
	if m.Round != 0 && m.Round < s.rec.round {
		s.log.Debug("stale rematch request", "round", m.Round, "current", s.rec.round)
		return
	}
	s.rec.remoteRematch = true
	s.maybeRematch()
}

// maybeRematch starts the next round once both sides asked for it.
func (s *Session) maybeRematch() {
	if !s.rec.localRematch || !s.rec.remoteRematch || s.rec.phase != game.Resolved {
		return
	}
	s.setPhase(game.Rematching)

	s.disarm()
	s.rec.round++
	s.rec.local = game.None
	s.rec.opponent = game.None
	s.rec.outcome = game.Pending
	s.rec.waiting = ""
	s.rec.expired = false
	s.rec.localRematch = false
	s.rec.remoteRematch = false
	s.rec.lastErr = nil

	s.log.Info("rematch", "round", s.rec.round)
	s.setPhase(game.Connected)
}
