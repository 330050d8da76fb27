package orderbook

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

// Match crosses buys against sells for every token in the book.
//
// Per token, buys are walked best-first and each buy sweeps the sell side
// best-first until it is exhausted or the next sell no longer crosses.
// Execution happens at the sell price. Remaining sizes are tracked in a
// private working copy, so the book is left untouched and repeated calls on
// the same book return identical results.
func Match(ob *OrderBook) []core.Match {
	var matches []core.Match
	for _, token := range ob.tokens {
		sb := ob.books[token]
		matches = append(matches, matchToken(sb.bids, sb.asks)...)
	}
	return matches
}

func matchToken(bids, asks []core.Order) []core.Match {
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}

	bidLeft := remaining(bids)
	askLeft := remaining(asks)

	var out []core.Match
	for bi := range bids {
		buy := &bids[bi]
		if bidLeft[bi].IsZero() {
			continue
		}
		for ai := range asks {
			sell := &asks[ai]
			if askLeft[ai].IsZero() {
				continue
			}
			if sell.Token != buy.Token {
				continue
			}
			if sell.Owner == buy.Owner {
				continue // self-trade
			}
			// asks are ascending: nothing further can cross this buy
			if buy.Price.Lt(sell.Price) {
				break
			}

			qty := new(uint256.Int).Set(bidLeft[bi])
			if askLeft[ai].Lt(qty) {
				qty.Set(askLeft[ai])
			}
			bidLeft[bi].Sub(bidLeft[bi], qty)
			askLeft[ai].Sub(askLeft[ai], qty)

			out = append(out, core.Match{
				BuyOrderID:     buy.ID,
				SellOrderID:    sell.ID,
				Token:          buy.Token,
				Quantity:       qty,
				ExecutionPrice: new(uint256.Int).Set(sell.Price),
				Buyer:          buy.Owner,
				Seller:         sell.Owner,
			})

			if bidLeft[bi].IsZero() {
				break
			}
		}
	}
	return out
}

func remaining(orders []core.Order) []*uint256.Int {
	out := make([]*uint256.Int, len(orders))
	for i, o := range orders {
		out[i] = new(uint256.Int).Set(o.Size)
	}
	return out
}
