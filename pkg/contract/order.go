package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

// OrderEncodingV1 is the ABI encoding of
//
//	(uint256 orderId, address owner, address token, uint256 price, uint256 size, bool isBuy)
//
// as returned inside getEncryptedOrder. It is the only accepted order shape.
const OrderEncodingV1 = 1

const orderV1Len = 6 * 32

var orderV1Args abi.Arguments

func init() {
	mustType := func(t string) abi.Type {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		return typ
	}
	u256, addr, boolean := mustType("uint256"), mustType("address"), mustType("bool")
	orderV1Args = abi.Arguments{
		{Name: "orderId", Type: u256},
		{Name: "owner", Type: addr},
		{Name: "token", Type: addr},
		{Name: "price", Type: u256},
		{Name: "size", Type: u256},
		{Name: "isBuy", Type: boolean},
	}
}

// EncodeOrder produces the v1 encoding of o.
func EncodeOrder(o core.Order) ([]byte, error) {
	if o.Price == nil || o.Size == nil {
		return nil, fmt.Errorf("order %d: missing price or size", o.ID)
	}
	return orderV1Args.Pack(
		new(big.Int).SetUint64(o.ID),
		o.Owner,
		o.Token,
		o.Price.ToBig(),
		o.Size.ToBig(),
		o.IsBuy(),
	)
}

// DecodeOrder parses a v1 order. Padding of the address words and the bool
// word must be canonical.
func DecodeOrder(data []byte) (core.Order, error) {
	if len(data) != orderV1Len {
		return core.Order{}, fmt.Errorf("%w: order v%d must be %d bytes, got %d",
			ErrDecode, OrderEncodingV1, orderV1Len, len(data))
	}
	for _, word := range []int{1, 2} {
		for _, b := range data[word*32 : word*32+12] {
			if b != 0 {
				return core.Order{}, fmt.Errorf("%w: non-canonical address in word %d", ErrDecode, word)
			}
		}
	}

	vals, err := orderV1Args.Unpack(data)
	if err != nil {
		return core.Order{}, fmt.Errorf("%w: order: %v", ErrDecode, err)
	}
	if len(vals) != len(orderV1Args) {
		return core.Order{}, fmt.Errorf("%w: order: expected %d fields, got %d", ErrDecode, len(orderV1Args), len(vals))
	}

	id, ok1 := vals[0].(*big.Int)
	owner, ok2 := vals[1].(common.Address)
	token, ok3 := vals[2].(common.Address)
	price, ok4 := vals[3].(*big.Int)
	size, ok5 := vals[4].(*big.Int)
	isBuy, ok6 := vals[5].(bool)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return core.Order{}, fmt.Errorf("%w: order: unexpected field types", ErrDecode)
	}
	if !id.IsUint64() || id.Sign() == 0 {
		return core.Order{}, fmt.Errorf("%w: order id %s out of range", ErrDecode, id)
	}

	side := core.Sell
	if isBuy {
		side = core.Buy
	}
	return core.Order{
		ID:    id.Uint64(),
		Owner: owner,
		Token: token,
		Price: uint256.MustFromBig(price),
		Size:  uint256.MustFromBig(size),
		Side:  side,
	}, nil
}

// DecodeOrderFor decodes data and checks it belongs to order id owned by owner.
func DecodeOrderFor(id uint64, owner common.Address, data []byte) (core.Order, error) {
	o, err := DecodeOrder(data)
	if err != nil {
		return core.Order{}, err
	}
	if o.ID != id {
		return core.Order{}, fmt.Errorf("%w: payload is for order %d, requested %d", ErrDecode, o.ID, id)
	}
	if o.Owner != owner {
		return core.Order{}, fmt.Errorf("%w: order %d owner %s does not match %s",
			ErrDecode, id, o.Owner.Hex(), owner.Hex())
	}
	return o, nil
}
