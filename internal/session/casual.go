package session

import (
	"fmt"
	"time"

	"advanced_rps/internal/game"
	"advanced_rps/internal/protocol"
)

// selectCasual announces the weapon straight to the peer. The weapon is only
// recorded once the send went through.
func (s *Session) selectCasual(w game.Weapon) error {
	const op = "select_weapon"
	switch s.current() {
	case game.Connected, game.AwaitingLocalWeapon:
	default:
		return invalidState(op, "phase %s", s.rec.phase)
	}
	if s.rec.local != game.None {
		return invalidState(op, "weapon already chosen")
	}

	if err := s.send(op, protocol.WeaponRevealed{Role: s.cfg.Role, Weapon: w}); err != nil {
		return err
	}
	s.rec.local = w

	if s.rec.opponent != game.None {
		s.resolveCasual()
		return nil
	}
	if s.cfg.MoveTimeout > 0 {
		s.arm(time.Now().Add(s.cfg.MoveTimeout), game.AwaitingOpponentWeapon)
	}
	s.advance(game.AwaitingOpponentWeapon)
	return nil
}

// casualOpponentWeapon buffers the peer's weapon until the local one is known.
func (s *Session) casualOpponentWeapon(w game.Weapon) {
	switch s.current() {
	case game.Connected, game.AwaitingLocalWeapon, game.AwaitingOpponentWeapon:
	default:
		s.violation("weapon_revealed", fmt.Errorf("phase %s", s.rec.phase))
		return
	}
	if s.rec.opponent != game.None {
		s.violation("weapon_revealed", fmt.Errorf("second weapon %s after %s", w, s.rec.opponent))
		return
	}
	s.rec.opponent = w
	if s.rec.local != game.None {
		s.resolveCasual()
	}
}

func (s *Session) resolveCasual() {
	outcome, err := s.outcomeOf()
	if err != nil {
		s.log.Error("resolve failed", "error", err)
		return
	}
	s.finish(outcome)
	if err := s.send("winner", protocol.Winner{Outcome: outcome}); err != nil {
		s.setErr(err)
	}
}
