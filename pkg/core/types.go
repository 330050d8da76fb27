package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", int8(s))
	}
}

// Order is a decrypted order as read from the contract.
// Price is fixed-point with the token's decimals; Size is the remaining quantity.
type Order struct {
	ID    uint64
	Owner common.Address
	Token common.Address
	Price *uint256.Int
	Size  *uint256.Int
	Side  Side

	// Seq is the arrival position within one retrieval pass (lower = earlier).
	Seq int
}

func (o Order) IsBuy() bool { return o.Side == Buy }

// Match is a crossing between one buy and one sell order of the same token.
type Match struct {
	BuyOrderID     uint64
	SellOrderID    uint64
	Token          common.Address
	Quantity       *uint256.Int
	ExecutionPrice *uint256.Int
	Buyer          common.Address
	Seller         common.Address
}

func (m Match) String() string {
	return fmt.Sprintf("match{buy=%d sell=%d token=%s qty=%s price=%s}",
		m.BuyOrderID, m.SellOrderID, m.Token.Hex(), m.Quantity, m.ExecutionPrice)
}
