package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"advanced_rps/internal/game"
)

var (
	// ErrUserCancelled means the signer refused to sign. Nothing was submitted.
	ErrUserCancelled = errors.New("transaction cancelled by signer")
	// ErrReverted means the transaction was submitted but failed on-chain
	// or was rejected by the node.
	ErrReverted = errors.New("transaction reverted")
)

// Ledger deploys and binds escrows on behalf of one account.
type Ledger interface {
	// Account is the address stakes are paid from and payouts go to.
	Account() common.Address
	// Commit deploys a new escrow holding the initiator's hashed weapon and
	// stake, naming opponent as the only account allowed to play.
	Commit(ctx context.Context, hash common.Hash, opponent common.Address, stake *big.Int) (Escrow, error)
	// At binds an escrow that somebody else deployed.
	At(ctx context.Context, addr common.Address) (Escrow, error)
}

// Escrow is one deployed match contract. Writes block until the transaction
// is mined.
type Escrow interface {
	Address() common.Address

	Play(ctx context.Context, w game.Weapon, stake *big.Int) error
	Reveal(ctx context.Context, w game.Weapon, secret *big.Int) error
	// ClaimInitiatorTimeout refunds the initiator when the responder never played.
	ClaimInitiatorTimeout(ctx context.Context) error
	// ClaimResponderTimeout pays both stakes to the responder when the
	// initiator never revealed.
	ClaimResponderTimeout(ctx context.Context) error

	CurrentStake(ctx context.Context) (*big.Int, error)
	LastAction(ctx context.Context) (time.Time, error)
	TimeoutWindow(ctx context.Context) (time.Duration, error)
	// ResponderWeapon is None until the responder has played.
	ResponderWeapon(ctx context.Context) (game.Weapon, error)
}

// State is a point-in-time read of an escrow.
type State struct {
	Stake           *big.Int
	LastAction      time.Time
	Timeout         time.Duration
	ResponderWeapon game.Weapon
}

// Deadline is the instant after which a timeout claim is accepted.
func (s State) Deadline() time.Time {
	return s.LastAction.Add(s.Timeout)
}

// Settled is true once the escrow has paid out.
func (s State) Settled() bool {
	return s.Stake != nil && s.Stake.Sign() == 0
}

// ReadState fetches every view of e. Each call may be stale by the time the
// caller acts on it.
func ReadState(ctx context.Context, e Escrow) (State, error) {
	var (
		st  State
		err error
	)
	if st.Stake, err = e.CurrentStake(ctx); err != nil {
		return State{}, fmt.Errorf("read stake: %w", err)
	}
	if st.LastAction, err = e.LastAction(ctx); err != nil {
		return State{}, fmt.Errorf("read last action: %w", err)
	}
	if st.Timeout, err = e.TimeoutWindow(ctx); err != nil {
		return State{}, fmt.Errorf("read timeout: %w", err)
	}
	if st.ResponderWeapon, err = e.ResponderWeapon(ctx); err != nil {
		return State{}, fmt.Errorf("read responder weapon: %w", err)
	}
	return st, nil
}

// TxRequest describes a write waiting for the signer's approval.
type TxRequest struct {
	Method string
	From   common.Address
	To     common.Address
	Value  *big.Int
}

// Approver stands in for the wallet prompt. Returning an error cancels the
// transaction before it is signed.
type Approver interface {
	Approve(ctx context.Context, req TxRequest) error
}

type ApproverFunc func(ctx context.Context, req TxRequest) error

func (f ApproverFunc) Approve(ctx context.Context, req TxRequest) error {
	return f(ctx, req)
}

// AutoApprove signs everything.
var AutoApprove Approver = ApproverFunc(func(context.Context, TxRequest) error { return nil })

// Approve asks a to sign req. Any refusal comes back as ErrUserCancelled.
func Approve(ctx context.Context, a Approver, req TxRequest) error {
	if a == nil {
		return nil
	}
	if err := a.Approve(ctx, req); err != nil {
		if errors.Is(err, ErrUserCancelled) {
			return err
		}
		return fmt.Errorf("%s: %w: %v", req.Method, ErrUserCancelled, err)
	}
	return nil
}

// ErrNoEscrow is returned when binding an address that holds no escrow.
var ErrNoEscrow = errors.New("no escrow at address")
