package ethledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"advanced_rps/internal/game"
	"advanced_rps/internal/ledger"
	"advanced_rps/internal/logger"
)

// Backend is what the client needs from a node connection.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Client talks to escrows on an EVM chain through a keyed transactor.
type Client struct {
	backend  Backend
	auth     *bind.TransactOpts
	abi      abi.ABI
	bytecode []byte
	approver ledger.Approver
}

var _ ledger.Ledger = (*Client)(nil)

type Config struct {
	RPCURL     string
	PrivateKey string // hex, with or without 0x
	Bytecode   []byte // escrow creation code; only needed to deploy
	Approver   ledger.Approver
}

// Dial connects to an RPC endpoint and derives the chain id from it.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	ec, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	logger.Info("ethledger connected", "rpc", cfg.RPCURL, "chain_id", chainID)
	return New(ec, key, chainID, cfg.Bytecode, cfg.Approver)
}

func New(backend Backend, key *ecdsa.PrivateKey, chainID *big.Int, bytecode []byte, approver ledger.Approver) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	return &Client{
		backend:  backend,
		auth:     auth,
		abi:      parsed,
		bytecode: bytecode,
		approver: approver,
	}, nil
}

func (c *Client) Account() common.Address { return c.auth.From }

func (c *Client) opts(ctx context.Context, value *big.Int) *bind.TransactOpts {
	o := *c.auth
	o.Context = ctx
	o.Value = value
	return &o
}

func (c *Client) Commit(ctx context.Context, hash common.Hash, opponent common.Address, stake *big.Int) (ledger.Escrow, error) {
	if len(c.bytecode) == 0 {
		return nil, errors.New("deploy escrow: no bytecode configured")
	}
	if err := ledger.Approve(ctx, c.approver, ledger.TxRequest{Method: "deploy", From: c.Account(), Value: stake}); err != nil {
		return nil, err
	}

	addr, tx, bound, err := bind.DeployContract(c.opts(ctx, stake), c.abi, c.bytecode, c.backend, hash, opponent)
	if err != nil {
		return nil, classify("deploy", err)
	}
	logger.Info("escrow deploy submitted", "tx", tx.Hash().Hex(), "address", addr.Hex())

	waitCtx, cancel := context.WithTimeout(ctx, ledger.ConfirmTimeout)
	defer cancel()
	if _, err := bind.WaitDeployed(waitCtx, c.backend, tx); err != nil {
		return nil, classify("deploy", err)
	}
	return &escrow{client: c, addr: addr, contract: bound}, nil
}

func (c *Client) At(ctx context.Context, addr common.Address) (ledger.Escrow, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%s: %w", addr.Hex(), ledger.ErrNoEscrow)
	}
	bound := bind.NewBoundContract(addr, c.abi, c.backend, c.backend, c.backend)
	return &escrow{client: c, addr: addr, contract: bound}, nil
}

// classify maps node and receipt failures onto the ledger error taxonomy.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrReverted) || errors.Is(err, ledger.ErrUserCancelled) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"execution reverted", "insufficient funds", "gas required exceeds", "nonce too low", "replacement transaction underpriced"} {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%s: %w: %v", method, ledger.ErrReverted, err)
		}
	}
	return fmt.Errorf("%s: %w", method, err)
}

type escrow struct {
	client   *Client
	addr     common.Address
	contract *bind.BoundContract
}

func (e *escrow) Address() common.Address { return e.addr }

func (e *escrow) transact(ctx context.Context, method string, value *big.Int, params ...interface{}) error {
	req := ledger.TxRequest{Method: method, From: e.client.Account(), To: e.addr, Value: value}
	if err := ledger.Approve(ctx, e.client.approver, req); err != nil {
		return err
	}

	tx, err := e.contract.Transact(e.client.opts(ctx, value), method, params...)
	if err != nil {
		return classify(method, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, ledger.ConfirmTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, e.client.backend, tx)
	if err != nil {
		return classify(method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: %w: tx %s", method, ledger.ErrReverted, tx.Hash().Hex())
	}
	logger.Debug("escrow tx mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}

func (e *escrow) Play(ctx context.Context, w game.Weapon, stake *big.Int) error {
	return e.transact(ctx, "play", stake, uint8(w))
}

func (e *escrow) Reveal(ctx context.Context, w game.Weapon, secret *big.Int) error {
	return e.transact(ctx, "solve", nil, uint8(w), secret)
}

func (e *escrow) ClaimInitiatorTimeout(ctx context.Context) error {
	return e.transact(ctx, "j2Timeout", nil)
}

func (e *escrow) ClaimResponderTimeout(ctx context.Context) error {
	return e.transact(ctx, "j1Timeout", nil)
}

func (e *escrow) call(ctx context.Context, method string) (interface{}, error) {
	var out []interface{}
	if err := e.contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out[0], nil
}

func (e *escrow) bigView(ctx context.Context, method string) (*big.Int, error) {
	v, err := e.call(ctx, method)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(v, new(*big.Int)).(**big.Int), nil
}

func (e *escrow) CurrentStake(ctx context.Context) (*big.Int, error) {
	return e.bigView(ctx, "stake")
}

func (e *escrow) LastAction(ctx context.Context) (time.Time, error) {
	v, err := e.bigView(ctx, "lastAction")
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v.Int64(), 0), nil
}

func (e *escrow) TimeoutWindow(ctx context.Context) (time.Duration, error) {
	v, err := e.bigView(ctx, "TIMEOUT")
	if err != nil {
		return 0, err
	}
	return time.Duration(v.Int64()) * time.Second, nil
}

func (e *escrow) ResponderWeapon(ctx context.Context) (game.Weapon, error) {
	v, err := e.call(ctx, "c2")
	if err != nil {
		return game.None, err
	}
	w := game.Weapon(*abi.ConvertType(v, new(uint8)).(*uint8))
	if w != game.None && !w.Valid() {
		return game.None, fmt.Errorf("c2: unexpected value %d", uint8(w))
	}
	return w, nil
}
