package game

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidState is returned when an operation needs information that is not
// available yet, e.g. resolving before both weapons are known.
var ErrInvalidState = errors.New("invalid state")

// Weapon is one of the five playable weapons. The numeric values are shared
// with the escrow contract and must not change.
type Weapon uint8

const (
	None Weapon = iota
	Rock
	Paper
	Scissors
	Spock
	Lizard
)

var weaponNames = [...]string{"none", "rock", "paper", "scissors", "spock", "lizard"}

// Weapons lists every playable weapon in contract order.
var Weapons = []Weapon{Rock, Paper, Scissors, Spock, Lizard}

func (w Weapon) Valid() bool {
	return w >= Rock && w <= Lizard
}

func (w Weapon) String() string {
	if int(w) < len(weaponNames) {
		return weaponNames[w]
	}
	return fmt.Sprintf("weapon(%d)", uint8(w))
}

// ParseWeapon accepts a weapon name (case-insensitive) and rejects None.
func ParseWeapon(s string) (Weapon, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, w := range Weapons {
		if weaponNames[w] == s {
			return w, nil
		}
	}
	return None, fmt.Errorf("unknown weapon %q", s)
}

// Role is fixed for the whole match: the Initiator opened the peer channel
// and is always player 1, the Responder joined it.
type Role string

const (
	Initiator Role = "initiator"
	Responder Role = "responder"
)

func (r Role) Valid() bool {
	return r == Initiator || r == Responder
}

func (r Role) Opponent() Role {
	if r == Initiator {
		return Responder
	}
	return Initiator
}

type Variant string

const (
	Escrowed Variant = "escrowed"
	Casual   Variant = "casual"
)

func (v Variant) Valid() bool {
	return v == Escrowed || v == Casual
}

type Outcome string

const (
	Pending     Outcome = "pending"
	Player1Wins Outcome = "player1_wins"
	Player2Wins Outcome = "player2_wins"
	Draw        Outcome = "draw"
)

func (o Outcome) Valid() bool {
	switch o {
	case Pending, Player1Wins, Player2Wins, Draw:
		return true
	}
	return false
}

// Flip swaps the players, so Resolve(a, b) == Resolve(b, a).Flip().
func (o Outcome) Flip() Outcome {
	switch o {
	case Player1Wins:
		return Player2Wins
	case Player2Wins:
		return Player1Wins
	}
	return o
}

// WinnerRole maps the outcome to the winning role. ok is false for draws and
// pending matches.
func (o Outcome) WinnerRole() (Role, bool) {
	switch o {
	case Player1Wins:
		return Initiator, true
	case Player2Wins:
		return Responder, true
	}
	return "", false
}

// Phase is the step a match is in. Phases from AwaitingChannel through
// Resolved form the main line; TimedOut, Settled and Disconnected are side
// exits.
type Phase string

const (
	AwaitingChannel        Phase = "awaiting_channel"
	Connected              Phase = "connected"
	AwaitingCommitment     Phase = "awaiting_commitment"
	AwaitingOpponentStake  Phase = "awaiting_opponent_stake"
	AwaitingReveal         Phase = "awaiting_reveal"
	AwaitingLocalWeapon    Phase = "awaiting_local_weapon"
	AwaitingOpponentWeapon Phase = "awaiting_opponent_weapon"
	Resolving              Phase = "resolving"
	Resolved               Phase = "resolved"
	Rematching             Phase = "rematching"
	TimedOut               Phase = "timed_out"
	Settled                Phase = "settled"
	Disconnected           Phase = "disconnected"
)

// Awaiting reports whether a deadline may be running in this phase.
func (p Phase) Awaiting() bool {
	switch p {
	case AwaitingChannel, AwaitingCommitment, AwaitingOpponentStake, AwaitingReveal,
		AwaitingLocalWeapon, AwaitingOpponentWeapon:
		return true
	}
	return false
}

// Terminal phases accept no further moves.
func (p Phase) Terminal() bool {
	return p == Settled || p == Disconnected
}

func (w Weapon) MarshalText() ([]byte, error) {
	if int(w) >= len(weaponNames) {
		return nil, fmt.Errorf("unknown weapon %d", uint8(w))
	}
	return []byte(weaponNames[w]), nil
}

func (w *Weapon) UnmarshalText(b []byte) error {
	if string(b) == weaponNames[None] {
		*w = None
		return nil
	}
	parsed, err := ParseWeapon(string(b))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
