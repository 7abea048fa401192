package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Backend is the subset of ethclient.Client the redeemer needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Client signs and sends transactions with the operator key. Executors
// built from the same Client serialize nonce assignment through it.
type Client struct {
	eth     Backend
	closer  func()
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
	sendMu  sync.Mutex
	log     *zap.Logger
}

// Dial connects to rpcURL and loads the hex-encoded operator key.
func Dial(ctx context.Context, rpcURL string, chainID int64, operatorKeyHex string, log *zap.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	c := NewClient(eth, big.NewInt(chainID), key, log)
	c.closer = eth.Close
	return c, nil
}

func NewClient(eth Backend, chainID *big.Int, key *ecdsa.PrivateKey, log *zap.Logger) *Client {
	return &Client{
		eth:     eth,
		chainID: chainID,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		log:     log,
	}
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

// From returns the operator address transactions are sent from.
func (c *Client) From() common.Address { return c.from }

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// call runs a view function and returns its unpacked outputs.
func (c *Client) call(ctx context.Context, to common.Address, a abi.ABI, method string, args ...any) ([]any, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

func (c *Client) callBool(ctx context.Context, to common.Address, a abi.ABI, method string, args ...any) (bool, error) {
	vals, err := c.call(ctx, to, a, method, args...)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, fmt.Errorf("%s: unexpected %d outputs", method, len(vals))
	}
	b, ok := vals[0].(bool)
	if !ok {
		return false, fmt.Errorf("%s: output is %T", method, vals[0])
	}
	return b, nil
}

// Paused reports the protocol-wide pause flag of the Controller.
func (c *Client) Paused(ctx context.Context, controller common.Address) (bool, error) {
	return c.callBool(ctx, controller, ControllerABI, "paused")
}

// IsOperator checks legacy Staking operator authorization.
func (c *Client) IsOperator(ctx context.Context, staking, operator, indexer common.Address) (bool, error) {
	return c.callBool(ctx, staking, LegacyStakingABI, "isOperator", operator, indexer)
}

// IsAuthorized checks HorizonStaking operator authorization for verifier.
func (c *Client) IsAuthorized(ctx context.Context, staking, serviceProvider, verifier, operator common.Address) (bool, error) {
	return c.callBool(ctx, staking, HorizonStakingABI, "isAuthorized", serviceProvider, verifier, operator)
}
