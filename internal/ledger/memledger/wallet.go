package memledger

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
)

// Wallet is one account on a Chain.
type Wallet struct {
	chain   *Chain
	account common.Address

	mu       sync.RWMutex
	approver ledger.Approver
}

var _ ledger.Ledger = (*Wallet)(nil)

func (w *Wallet) Account() common.Address { return w.account }

// SetApprover swaps the signing prompt, e.g. to simulate a user cancelling.
func (w *Wallet) SetApprover(a ledger.Approver) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.approver = a
}

func (w *Wallet) approve(ctx context.Context, method string, to common.Address, value *big.Int) error {
	w.mu.RLock()
	a := w.approver
	w.mu.RUnlock()
	return ledger.Approve(ctx, a, ledger.TxRequest{Method: method, From: w.account, To: to, Value: value})
}

func (w *Wallet) Commit(ctx context.Context, hash common.Hash, opponent common.Address, stake *big.Int) (ledger.Escrow, error) {
	if err := w.approve(ctx, "deploy", common.Address{}, stake); err != nil {
		return nil, err
	}
	var addr common.Address
	err := w.chain.mine(ctx, func() error {
		var err error
		addr, err = w.chain.deploy(w.account, hash, opponent, stake)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &escrow{wallet: w, addr: addr}, nil
}

func (w *Wallet) At(ctx context.Context, addr common.Address) (ledger.Escrow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.chain.mu.Lock()
	defer w.chain.mu.Unlock()
	if _, err := w.chain.contractLocked(addr); err != nil {
		return nil, err
	}
	return &escrow{wallet: w, addr: addr}, nil
}

type escrow struct {
	wallet *Wallet
	addr   common.Address
}

func (e *escrow) Address() common.Address { return e.addr }

func (e *escrow) Play(ctx context.Context, weapon game.Weapon, stake *big.Int) error {
	if err := e.wallet.approve(ctx, "play", e.addr, stake); err != nil {
		return err
	}
	return e.wallet.chain.mine(ctx, func() error {
		return e.wallet.chain.play(e.addr, e.wallet.account, weapon, stake)
	})
}

func (e *escrow) Reveal(ctx context.Context, weapon game.Weapon, secret *big.Int) error {
	if err := e.wallet.approve(ctx, "solve", e.addr, nil); err != nil {
		return err
	}
	return e.wallet.chain.mine(ctx, func() error {
		return e.wallet.chain.solve(e.addr, e.wallet.account, weapon, secret)
	})
}

func (e *escrow) ClaimInitiatorTimeout(ctx context.Context) error {
	if err := e.wallet.approve(ctx, "j2Timeout", e.addr, nil); err != nil {
		return err
	}
	return e.wallet.chain.mine(ctx, func() error {
		return e.wallet.chain.j2Timeout(e.addr)
	})
}

func (e *escrow) ClaimResponderTimeout(ctx context.Context) error {
	if err := e.wallet.approve(ctx, "j1Timeout", e.addr, nil); err != nil {
		return err
	}
	return e.wallet.chain.mine(ctx, func() error {
		return e.wallet.chain.j1Timeout(e.addr)
	})
}

func (e *escrow) view(fn func(k *contract)) error {
	c := e.wallet.chain
	c.mu.Lock()
	defer c.mu.Unlock()
	k, err := c.contractLocked(e.addr)
	if err != nil {
		return err
	}
	fn(k)
	return nil
}

func (e *escrow) CurrentStake(ctx context.Context) (*big.Int, error) {
	var v *big.Int
	err := e.view(func(k *contract) { v = new(big.Int).Set(k.stake) })
	return v, err
}

func (e *escrow) LastAction(ctx context.Context) (time.Time, error) {
	var v time.Time
	err := e.view(func(k *contract) { v = k.lastAction })
	return v, err
}

func (e *escrow) TimeoutWindow(ctx context.Context) (time.Duration, error) {
	var v time.Duration
	err := e.view(func(k *contract) { v = k.timeout })
	return v, err
}

func (e *escrow) ResponderWeapon(ctx context.Context) (game.Weapon, error) {
	var v game.Weapon
	err := e.view(func(k *contract) { v = k.c2 })
	return v, err
}
