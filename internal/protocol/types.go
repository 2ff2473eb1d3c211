package protocol

import (
	"advanced_rps/internal/game"
)

// Message tags on the wire.
const (
	TypeConnected       = "connected"
	TypeAddressAnnounce = "address_announce"
	TypeEscrowAddress   = "escrow_address"
	TypeStakeAnnounce   = "stake_announce"
	TypeTimeoutWindow   = "timeout_window"
	TypeWeaponRevealed  = "weapon_revealed"
	TypeWinner          = "winner"
	TypeRematchRequest  = "rematch_request"
)

// Message is one of the peer messages below.
type Message interface {
	Type() string
	validate() error
}

// Connected is sent by both sides as soon as the channel opens.
type Connected struct {
	PeerID string `json:"peer_id,omitempty"`
}

// AddressAnnounce carries a player's identity and, for escrowed matches,
// the account the escrow pays out to.
type AddressAnnounce struct {
	Role     game.Role `json:"role"`
	Identity string    `json:"identity,omitempty"`
	Address  string    `json:"address,omitempty"`
}

// EscrowAddress points the responder at the deployed escrow.
type EscrowAddress struct {
	Address string `json:"address"`
}

// StakeAnnounce is the per-player stake in wei, as a decimal string.
type StakeAnnounce struct {
	Stake string `json:"stake"`
}

type TimeoutWindow struct {
	Seconds int64 `json:"seconds"`
}

type WeaponRevealed struct {
	Role   game.Role   `json:"role"`
	Weapon game.Weapon `json:"weapon"`
}

// Winner is informational. Each side computes the outcome itself.
type Winner struct {
	Outcome game.Outcome `json:"outcome"`
}

type RematchRequest struct {
	Round int `json:"round,omitempty"`
}

func (Connected) Type() string       { return TypeConnected }
func (AddressAnnounce) Type() string { return TypeAddressAnnounce }
func (EscrowAddress) Type() string   { return TypeEscrowAddress }
func (StakeAnnounce) Type() string   { return TypeStakeAnnounce }
func (TimeoutWindow) Type() string   { return TypeTimeoutWindow }
func (WeaponRevealed) Type() string  { return TypeWeaponRevealed }
func (Winner) Type() string          { return TypeWinner }
func (RematchRequest) Type() string  { return TypeRematchRequest }
