package orderbook

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

type PriceLevel struct {
	Price *uint256.Int
	Qty   *uint256.Int // total remaining size at this price level
	Count int
}

// sideBook holds both sides of a single token.
type sideBook struct {
	bids []core.Order // price desc, then Seq
	asks []core.Order // price asc, then Seq
}

// OrderBook is an immutable snapshot of unfilled orders grouped by token.
// It is rebuilt from scratch every cycle.
type OrderBook struct {
	tokens []common.Address // first-seen order
	books  map[common.Address]*sideBook
	size   int
}

// Build admits every order with a positive size, stamps Seq with the input
// position, and sorts each token's sides. The input slice is not modified.
func Build(orders []core.Order) *OrderBook {
	ob := &OrderBook{books: make(map[common.Address]*sideBook)}

	for i, o := range orders {
		if o.Size == nil || o.Size.IsZero() || o.Price == nil {
			continue
		}
		if o.Side != core.Buy && o.Side != core.Sell {
			continue
		}
		cp := o
		cp.Seq = i
		cp.Price = new(uint256.Int).Set(o.Price)
		cp.Size = new(uint256.Int).Set(o.Size)

		sb, ok := ob.books[cp.Token]
		if !ok {
			sb = &sideBook{}
			ob.books[cp.Token] = sb
			ob.tokens = append(ob.tokens, cp.Token)
		}
		if cp.Side == core.Buy {
			sb.bids = append(sb.bids, cp)
		} else {
			sb.asks = append(sb.asks, cp)
		}
		ob.size++
	}

	for _, sb := range ob.books {
		sort.SliceStable(sb.bids, func(i, j int) bool {
			if c := sb.bids[i].Price.Cmp(sb.bids[j].Price); c != 0 {
				return c > 0
			}
			return sb.bids[i].Seq < sb.bids[j].Seq
		})
		sort.SliceStable(sb.asks, func(i, j int) bool {
			if c := sb.asks[i].Price.Cmp(sb.asks[j].Price); c != 0 {
				return c < 0
			}
			return sb.asks[i].Seq < sb.asks[j].Seq
		})
	}
	return ob
}

// Len returns the number of admitted orders.
func (ob *OrderBook) Len() int { return ob.size }

// Tokens returns the traded tokens in the order they were first seen.
func (ob *OrderBook) Tokens() []common.Address {
	return append([]common.Address(nil), ob.tokens...)
}

// Buys returns a copy of the token's buy side, best (highest) price first.
func (ob *OrderBook) Buys(token common.Address) []core.Order {
	sb, ok := ob.books[token]
	if !ok {
		return nil
	}
	return cloneOrders(sb.bids)
}

// Sells returns a copy of the token's sell side, best (lowest) price first.
func (ob *OrderBook) Sells(token common.Address) []core.Order {
	sb, ok := ob.books[token]
	if !ok {
		return nil
	}
	return cloneOrders(sb.asks)
}

// BidLevels aggregates the buy side by price, high to low.
func (ob *OrderBook) BidLevels(token common.Address) []PriceLevel {
	sb, ok := ob.books[token]
	if !ok {
		return nil
	}
	return levels(sb.bids)
}

// AskLevels aggregates the sell side by price, low to high.
func (ob *OrderBook) AskLevels(token common.Address) []PriceLevel {
	sb, ok := ob.books[token]
	if !ok {
		return nil
	}
	return levels(sb.asks)
}

// levels relies on orders already being sorted by price.
func levels(orders []core.Order) []PriceLevel {
	var out []PriceLevel
	for _, o := range orders {
		if n := len(out); n > 0 && out[n-1].Price.Eq(o.Price) {
			out[n-1].Qty.Add(out[n-1].Qty, o.Size)
			out[n-1].Count++
			continue
		}
		out = append(out, PriceLevel{
			Price: new(uint256.Int).Set(o.Price),
			Qty:   new(uint256.Int).Set(o.Size),
			Count: 1,
		})
	}
	return out
}

func cloneOrders(in []core.Order) []core.Order {
	out := make([]core.Order, len(in))
	for i, o := range in {
		out[i] = o
		out[i].Price = new(uint256.Int).Set(o.Price)
		out[i].Size = new(uint256.Int).Set(o.Size)
	}
	return out
}
