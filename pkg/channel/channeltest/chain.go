// Package channeltest provides an in-memory order-matching contract behind
// the channel.Channel interface.
package channeltest

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

// Submission is a transaction the chain accepted.
type Submission struct {
	Hash     common.Hash
	Method   string
	Match    *core.Match
	GasLimit uint64
	Reverted bool
}

// Chain fakes the contract, the tokens' allowance views and receipts. Zero
// value fields mean "no failure"; tests mutate exported fields before use.
type Chain struct {
	mu sync.Mutex

	Contract *contract.Contract
	token    *contract.Token
	self     common.Address
	mode     channel.Mode

	Orders   map[uint64]core.Order
	Payloads map[uint64][]byte
	Filled   map[uint64]bool
	// Count overrides getTotalOrderCount when non-nil.
	Count *uint64

	Oracle common.Address
	// LockOracle makes setOracle revert.
	LockOracle bool

	Allowances map[common.Address]*uint256.Int

	// ViewErr is consulted before answering a view; a non-nil error is
	// returned as-is.
	ViewErr   func(method string, id uint64) error
	SubmitErr error
	// Revert decides whether an executeMatch reverts.
	Revert func(m core.Match) bool
	// FillOnSettle marks both orders filled after a successful executeMatch.
	FillOnSettle bool
	// PendingPolls is the number of Receipt calls answered "not found"
	// before a receipt appears.
	PendingPolls int
	// DropReceipts keeps every transaction pending forever.
	DropReceipts bool

	Submitted []Submission
	Views     []string

	receipts map[common.Hash]*types.Receipt
	polls    map[common.Hash]int
	nonce    uint64
}

func New(c *contract.Contract, self common.Address) *Chain {
	tok, err := contract.NewToken()
	if err != nil {
		panic(err)
	}
	return &Chain{
		Contract:   c,
		token:      tok,
		self:       self,
		mode:       channel.ModeDirect,
		Orders:     map[uint64]core.Order{},
		Payloads:   map[uint64][]byte{},
		Filled:     map[uint64]bool{},
		Oracle:     self,
		Allowances: map[common.Address]*uint256.Int{},
		receipts:   map[common.Hash]*types.Receipt{},
		polls:      map[common.Hash]int{},
	}
}

// Add registers an order under its ID.
func (c *Chain) Add(orders ...core.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range orders {
		c.Orders[o.ID] = o
	}
}

func (c *Chain) Address() common.Address { return c.self }
func (c *Chain) Mode() channel.Mode      { return c.mode }

func (c *Chain) CallView(_ context.Context, target common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if target != c.Contract.Address {
		return c.tokenView(data)
	}
	method, args, err := decodeCall(c.Contract.ABI(), data)
	if err != nil {
		return nil, err
	}
	c.Views = append(c.Views, method.Name)
	id := idArg(args)
	if c.ViewErr != nil {
		if err := c.ViewErr(method.Name, id); err != nil {
			return nil, err
		}
	}

	out := method.Outputs
	switch method.Name {
	case contract.MethodTotalOrderCount:
		if c.Count != nil {
			return out.Pack(new(big.Int).SetUint64(*c.Count))
		}
		var highest uint64
		for k := range c.Orders {
			if k > highest {
				highest = k
			}
		}
		for k := range c.Payloads {
			if k > highest {
				highest = k
			}
		}
		return out.Pack(new(big.Int).SetUint64(highest))
	case contract.MethodOrderExists:
		_, ok := c.Orders[id]
		_, raw := c.Payloads[id]
		return out.Pack(ok || raw)
	case contract.MethodFilledOrders:
		return out.Pack(c.Filled[id])
	case contract.MethodOrderOwner:
		return out.Pack(c.Orders[id].Owner)
	case contract.MethodEncryptedOrder:
		if raw, ok := c.Payloads[id]; ok {
			return out.Pack(raw)
		}
		enc, err := contract.EncodeOrder(c.Orders[id])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", channel.ErrMalformed, err)
		}
		return out.Pack(enc)
	case contract.MethodOracle:
		return out.Pack(c.Oracle)
	}
	return nil, fmt.Errorf("%w: view %s not supported", channel.ErrMalformed, method.Name)
}

func (c *Chain) tokenView(data []byte) ([]byte, error) {
	method, args, err := decodeCall(c.token.ABI(), data)
	if err != nil {
		return nil, err
	}
	c.Views = append(c.Views, method.Name)
	owner := args[0].(common.Address)
	allowance := c.Allowances[owner]
	if allowance == nil {
		allowance = new(uint256.Int)
	}
	return method.Outputs.Pack(allowance.ToBig())
}

func (c *Chain) SubmitTransaction(_ context.Context, target common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		return common.Hash{}, c.SubmitErr
	}
	if target != c.Contract.Address {
		return common.Hash{}, fmt.Errorf("%w: unknown target %s", channel.ErrRejected, target.Hex())
	}
	method, args, err := decodeCall(c.Contract.ABI(), data)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", channel.ErrRejected, err)
	}

	c.nonce++
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], c.nonce)
	hash := crypto.Keccak256Hash(seed[:])
	sub := Submission{Hash: hash, Method: method.Name, GasLimit: gasLimit}

	switch method.Name {
	case contract.MethodExecuteMatch:
		m := core.Match{
			BuyOrderID:     args[0].(*big.Int).Uint64(),
			SellOrderID:    args[1].(*big.Int).Uint64(),
			Buyer:          args[2].(common.Address),
			Seller:         args[3].(common.Address),
			Token:          args[4].(common.Address),
			Quantity:       uint256.MustFromBig(args[5].(*big.Int)),
			ExecutionPrice: uint256.MustFromBig(args[6].(*big.Int)),
		}
		sub.Match = &m
		sub.Reverted = c.Oracle != c.self || c.Filled[m.BuyOrderID] || c.Filled[m.SellOrderID] ||
			(c.Revert != nil && c.Revert(m))
		if !sub.Reverted && c.FillOnSettle {
			c.Filled[m.BuyOrderID] = true
			c.Filled[m.SellOrderID] = true
		}
	case contract.MethodSetOracle:
		sub.Reverted = c.LockOracle
		if !sub.Reverted {
			c.Oracle = args[0].(common.Address)
		}
	default:
		return common.Hash{}, fmt.Errorf("%w: method %s not supported", channel.ErrRejected, method.Name)
	}

	status := types.ReceiptStatusSuccessful
	if sub.Reverted {
		status = types.ReceiptStatusFailed
	}
	c.receipts[hash] = &types.Receipt{Status: status, TxHash: hash, GasUsed: 21_000}
	c.Submitted = append(c.Submitted, sub)
	return hash, nil
}

func (c *Chain) Receipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.receipts[hash]
	if !ok || c.DropReceipts {
		return nil, channel.ErrReceiptNotFound
	}
	c.polls[hash]++
	if c.polls[hash] <= c.PendingPolls {
		return nil, channel.ErrReceiptNotFound
	}
	return r, nil
}

// Matches returns the matches submitted so far, reverted or not.
func (c *Chain) Matches() []core.Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []core.Match
	for _, s := range c.Submitted {
		if s.Match != nil {
			out = append(out, *s.Match)
		}
	}
	return out
}

func decodeCall(a abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: short call data", channel.ErrMalformed)
	}
	method, err := a.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", channel.ErrMalformed, err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", channel.ErrMalformed, err)
	}
	return method, args, nil
}

func idArg(args []interface{}) uint64 {
	for _, a := range args {
		if v, ok := a.(*big.Int); ok {
			return v.Uint64()
		}
	}
	return 0
}

var _ channel.Channel = (*Chain)(nil)
