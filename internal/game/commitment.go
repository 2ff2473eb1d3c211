package game

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Commitment binds the initiator to a weapon without disclosing it.
type Commitment struct {
	Weapon Weapon
	Secret *big.Int
	Hash   common.Hash
}

// NewCommitment draws a fresh 256-bit secret for w.
func NewCommitment(w Weapon) (*Commitment, error) {
	if !w.Valid() {
		return nil, fmt.Errorf("commit %s: %w", w, ErrInvalidState)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := new(big.Int).SetBytes(buf)

	return &Commitment{
		Weapon: w,
		Secret: secret,
		Hash:   HashWeapon(w, secret),
	}, nil
}

// HashWeapon is keccak256(uint8 weapon ‖ uint256 secret): one weapon byte
// followed by the secret left-padded to 32 bytes, the packing the escrow
// contract verifies on reveal.
func HashWeapon(w Weapon, secret *big.Int) common.Hash {
	return crypto.Keccak256Hash([]byte{byte(w)}, common.LeftPadBytes(secret.Bytes(), 32))
}

// Verify checks a revealed (weapon, secret) pair against a published hash.
func Verify(hash common.Hash, w Weapon, secret *big.Int) bool {
	if secret == nil || secret.Sign() < 0 || secret.BitLen() > 256 {
		return false
	}
	return HashWeapon(w, secret) == hash
}
