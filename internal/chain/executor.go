package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

const gasBufferPercent = 20

// Outcome classifies what Execute did with a call.
type Outcome int

const (
	// Mined means the transaction was sent and mined successfully.
	Mined Outcome = iota
	// Paused means the protocol is paused; nothing was sent.
	Paused
	// Unauthorized means the operator may not act for the indexer; nothing
	// was sent.
	Unauthorized
)

func (o Outcome) String() string {
	switch o {
	case Mined:
		return "mined"
	case Paused:
		return "paused"
	case Unauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Call is a contract call to send as a transaction.
type Call struct {
	To   common.Address
	Data []byte
}

// Result is the outcome of Execute. Receipt is set only for Mined.
type Result struct {
	Outcome Outcome
	Receipt *types.Receipt
}

// AuthCheck reports whether operator may transact on behalf of indexer.
type AuthCheck func(ctx context.Context, operator, indexer common.Address) (bool, error)

// LegacyOperatorCheck authorizes through the legacy Staking contract.
func (c *Client) LegacyOperatorCheck(staking common.Address) AuthCheck {
	return func(ctx context.Context, operator, indexer common.Address) (bool, error) {
		if operator == indexer {
			return true, nil
		}
		return c.IsOperator(ctx, staking, operator, indexer)
	}
}

// HorizonAuthorizationCheck authorizes through HorizonStaking for verifier.
func (c *Client) HorizonAuthorizationCheck(staking, verifier common.Address) AuthCheck {
	return func(ctx context.Context, operator, indexer common.Address) (bool, error) {
		if operator == indexer {
			return true, nil
		}
		return c.IsAuthorized(ctx, staking, indexer, verifier, operator)
	}
}

// Executor submits calls for one indexer after checking the pause flag and
// operator authorization.
type Executor struct {
	c          *Client
	controller common.Address
	indexer    common.Address
	auth       AuthCheck
	log        *zap.Logger
}

func NewExecutor(c *Client, controller, indexer common.Address, auth AuthCheck, log *zap.Logger) *Executor {
	return &Executor{c: c, controller: controller, indexer: indexer, auth: auth, log: log}
}

// Execute checks preconditions, then estimates, signs, sends and waits for
// the transaction. A reverted transaction is an error.
func (e *Executor) Execute(ctx context.Context, call Call) (*Result, error) {
	paused, err := e.c.Paused(ctx, e.controller)
	if err != nil {
		return nil, fmt.Errorf("check paused: %w", err)
	}
	if paused {
		return &Result{Outcome: Paused}, nil
	}
	ok, err := e.auth(ctx, e.c.from, e.indexer)
	if err != nil {
		return nil, fmt.Errorf("check authorization: %w", err)
	}
	if !ok {
		return &Result{Outcome: Unauthorized}, nil
	}

	tx, err := e.send(ctx, call)
	if err != nil {
		return nil, err
	}
	e.log.Info("transaction sent", zap.String("tx", tx.Hash().Hex()), zap.String("to", call.To.Hex()))

	receipt, err := bind.WaitMined(ctx, e.c.eth, tx)
	if err != nil {
		return nil, fmt.Errorf("wait mined: %w", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}
	return &Result{Outcome: Mined, Receipt: receipt}, nil
}

func (e *Executor) send(ctx context.Context, call Call) (*types.Transaction, error) {
	c := e.c
	to := call.To
	gas, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: call.Data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}
	gas += gas * gasBufferPercent / 100

	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest tip: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}
	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Data:      call.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return tx, nil
}
