package memledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
)

// Chain is an in-process stand-in for an EVM network running the escrow
// contract. It keeps balances, enforces the contract's require checks and
// pays out exactly like the deployed bytecode.
type Chain struct {
	mu       sync.Mutex
	timeout  time.Duration
	delay    time.Duration
	now      func() time.Time
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	escrows  map[common.Address]*contract
}

type contract struct {
	j1, j2     common.Address
	c1Hash     common.Hash
	c2         game.Weapon
	stake      *big.Int
	lastAction time.Time
	timeout    time.Duration
}

type Option func(*Chain)

// WithTimeout sets TIMEOUT for escrows deployed afterwards.
func WithTimeout(d time.Duration) Option {
	return func(c *Chain) { c.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// WithMiningDelay makes every write wait d before it is applied.
func WithMiningDelay(d time.Duration) Option {
	return func(c *Chain) { c.delay = d }
}

func NewChain(opts ...Option) *Chain {
	c := &Chain{
		timeout:  ledger.DefaultTimeout,
		now:      time.Now,
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		escrows:  make(map[common.Address]*contract),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) Fund(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceLocked(addr).Add(c.balanceLocked(addr), wei)
}

func (c *Chain) Balance(addr common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceLocked(addr))
}

func (c *Chain) balanceLocked(addr common.Address) *big.Int {
	b, ok := c.balances[addr]
	if !ok {
		b = new(big.Int)
		c.balances[addr] = b
	}
	return b
}

// Wallet returns a ledger client acting as addr.
func (c *Chain) Wallet(addr common.Address, approver ledger.Approver) *Wallet {
	return &Wallet{chain: c, account: addr, approver: approver}
}

// mine waits out the mining delay and applies fn atomically.
func (c *Chain) mine(ctx context.Context, fn func() error) error {
	if c.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.delay):
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

func (c *Chain) debitLocked(from common.Address, value *big.Int) error {
	bal := c.balanceLocked(from)
	if bal.Cmp(value) < 0 {
		return revert("insufficient funds")
	}
	bal.Sub(bal, value)
	return nil
}

func (c *Chain) creditLocked(to common.Address, value *big.Int) {
	bal := c.balanceLocked(to)
	bal.Add(bal, value)
}

func (c *Chain) contractLocked(addr common.Address) (*contract, error) {
	k, ok := c.escrows[addr]
	if !ok {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), ledger.ErrNoEscrow)
	}
	return k, nil
}

func revert(reason string) error {
	return fmt.Errorf("%w: %s", ledger.ErrReverted, reason)
}

func (c *Chain) deploy(from common.Address, hash common.Hash, j2 common.Address, value *big.Int) (common.Address, error) {
	if value == nil || value.Sign() <= 0 {
		return common.Address{}, revert("stake must be positive")
	}
	if err := c.debitLocked(from, value); err != nil {
		return common.Address{}, err
	}

	addr := crypto.CreateAddress(from, c.nonces[from])
	c.nonces[from]++
	c.escrows[addr] = &contract{
		j1:         from,
		j2:         j2,
		c1Hash:     hash,
		stake:      new(big.Int).Set(value),
		lastAction: c.now(),
		timeout:    c.timeout,
	}
	return addr, nil
}

func (c *Chain) play(addr, from common.Address, w game.Weapon, value *big.Int) error {
	k, err := c.contractLocked(addr)
	if err != nil {
		return err
	}
	switch {
	case !w.Valid():
		return revert("invalid move")
	case k.stake.Sign() == 0:
		return revert("escrow settled")
	case k.c2 != game.None:
		return revert("already played")
	case from != k.j2:
		return revert("only j2 can play")
	case value == nil || value.Cmp(k.stake) != 0:
		return revert("stake mismatch")
	}
	if err := c.debitLocked(from, value); err != nil {
		return err
	}
	k.c2 = w
	k.lastAction = c.now()
	return nil
}

func (c *Chain) solve(addr, from common.Address, w game.Weapon, secret *big.Int) error {
	k, err := c.contractLocked(addr)
	if err != nil {
		return err
	}
	switch {
	case !w.Valid():
		return revert("invalid move")
	case k.stake.Sign() == 0:
		return revert("escrow settled")
	case k.c2 == game.None:
		return revert("j2 has not played")
	case from != k.j1:
		return revert("only j1 can solve")
	case !game.Verify(k.c1Hash, w, secret):
		return revert("commitment mismatch")
	}

	outcome, err := game.Resolve(w, k.c2)
	if err != nil {
		return revert(err.Error())
	}
	pot := new(big.Int).Lsh(k.stake, 1)
	switch outcome {
	case game.Player1Wins:
		c.creditLocked(k.j1, pot)
	case game.Player2Wins:
		c.creditLocked(k.j2, pot)
	default:
		c.creditLocked(k.j1, k.stake)
		c.creditLocked(k.j2, k.stake)
	}
	k.stake = new(big.Int)
	return nil
}

// j2Timeout: the responder never played, the initiator takes its stake back.
func (c *Chain) j2Timeout(addr common.Address) error {
	k, err := c.contractLocked(addr)
	if err != nil {
		return err
	}
	switch {
	case k.stake.Sign() == 0:
		return revert("escrow settled")
	case k.c2 != game.None:
		return revert("j2 already played")
	case !c.now().After(k.lastAction.Add(k.timeout)):
		return revert("timeout not reached")
	}
	c.creditLocked(k.j1, k.stake)
	k.stake = new(big.Int)
	return nil
}

// j1Timeout: the initiator never revealed, the responder takes the pot.
func (c *Chain) j1Timeout(addr common.Address) error {
	k, err := c.contractLocked(addr)
	if err != nil {
		return err
	}
	switch {
	case k.stake.Sign() == 0:
		return revert("escrow settled")
	case k.c2 == game.None:
		return revert("j2 has not played")
	case !c.now().After(k.lastAction.Add(k.timeout)):
		return revert("timeout not reached")
	}
	c.creditLocked(k.j2, new(big.Int).Lsh(k.stake, 1))
	k.stake = new(big.Int)
	return nil
}
