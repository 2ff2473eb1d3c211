package domain

import "time"

// MatchResult is the round's result from the archiving player's side.
type MatchResult string

const (
	MatchResultWin       MatchResult = "win"
	MatchResultLose      MatchResult = "lose"
	MatchResultDraw      MatchResult = "draw"
	MatchResultRefunded  MatchResult = "refunded"
	MatchResultClaimed   MatchResult = "claimed"
	MatchResultForfeited MatchResult = "forfeited"

	// MatchResultSettled is provisional: the escrow paid out before the
	// opponent's weapon arrived.
	MatchResultSettled MatchResult = "settled"
)

// MatchHistory is one finished round as seen by one player.
type MatchHistory struct {
	ID             int64                  `db:"id" json:"id"`
	SessionID      string                 `db:"session_id" json:"session_id"`
	Round          int                    `db:"round" json:"round"`
	Variant        string                 `db:"variant" json:"variant"`
	Role           string                 `db:"role" json:"role"`
	PeerID         string                 `db:"peer_id" json:"peer_id"`
	OpponentID     *string                `db:"opponent_id" json:"opponent_id,omitempty"`
	LocalWeapon    string                 `db:"local_weapon" json:"local_weapon"`
	OpponentWeapon string                 `db:"opponent_weapon" json:"opponent_weapon"`
	Outcome        string                 `db:"outcome" json:"outcome"`
	Result         MatchResult            `db:"result" json:"result"`
	StakeWei       string                 `db:"stake_wei" json:"stake_wei"`
	EscrowAddress  *string                `db:"escrow_address" json:"escrow_address,omitempty"`
	Details        map[string]interface{} `db:"details" json:"details,omitempty"`
	CreatedAt      time.Time              `db:"created_at" json:"created_at"`
}
