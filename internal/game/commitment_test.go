package game

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitmentVerify(t *testing.T) {
	c, err := NewCommitment(Paper)
	require.NoError(t, err)

	assert.True(t, Verify(c.Hash, Paper, c.Secret))
	assert.False(t, Verify(c.Hash, Spock, c.Secret))
	assert.False(t, Verify(c.Hash, Paper, new(big.Int).Add(c.Secret, big.NewInt(1))))
	assert.False(t, Verify(c.Hash, Paper, nil))
}

func TestCommitmentFreshSecret(t *testing.T) {
	a, err := NewCommitment(Rock)
	require.NoError(t, err)
	b, err := NewCommitment(Rock)
	require.NoError(t, err)

	assert.NotEqual(t, a.Secret, b.Secret)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestCommitmentRejectsNone(t *testing.T) {
	_, err := NewCommitment(None)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestHashWeaponPacking(t *testing.T) {
	// abi.encodePacked(uint8(3), uint256(1)) is 33 bytes.
	packed := append([]byte{3}, common.LeftPadBytes([]byte{1}, 32)...)
	require.Len(t, packed, 33)
	assert.Equal(t, crypto.Keccak256Hash(packed), HashWeapon(Scissors, big.NewInt(1)))

	// A full-width secret is not padded.
	top := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	packed = append([]byte{byte(Lizard)}, top.Bytes()...)
	require.Len(t, packed, 33)
	assert.Equal(t, crypto.Keccak256Hash(packed), HashWeapon(Lizard, top))
}
