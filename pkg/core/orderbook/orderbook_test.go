package orderbook

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

var (
	tokenT = common.HexToAddress("0x991a85943D05Abcc4599Fc8746188CCcE4019F04")
	tokenU = common.HexToAddress("0x8AE7cCe3D249F31b2D2db54aD2eBf1Ba2E30a977")
	alice  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol  = common.HexToAddress("0x00000000000000000000000000000000000ca401")
)

func order(id uint64, side core.Side, owner, token common.Address, price, size uint64) core.Order {
	return core.Order{
		ID:    id,
		Owner: owner,
		Token: token,
		Price: uint256.NewInt(price),
		Size:  uint256.NewInt(size),
		Side:  side,
	}
}

func ids(orders []core.Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func equalIDs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuild_SortsSides(t *testing.T) {
	book := Build([]core.Order{
		order(1, core.Buy, alice, tokenT, 100, 1),
		order(2, core.Buy, bob, tokenT, 120, 1),
		order(3, core.Sell, carol, tokenT, 95, 1),
		order(4, core.Sell, alice, tokenT, 90, 1),
		order(5, core.Buy, carol, tokenT, 100, 1),
		order(6, core.Sell, bob, tokenT, 95, 1),
	})

	if got, want := ids(book.Buys(tokenT)), []uint64{2, 1, 5}; !equalIDs(got, want) {
		t.Errorf("buys = %v, want %v", got, want)
	}
	if got, want := ids(book.Sells(tokenT)), []uint64{4, 3, 6}; !equalIDs(got, want) {
		t.Errorf("sells = %v, want %v", got, want)
	}
}

func TestBuild_ArrivalOrderBreaksTies(t *testing.T) {
	// Retrieval order, not order ID, decides priority at equal price.
	book := Build([]core.Order{
		order(9, core.Sell, alice, tokenT, 50, 1),
		order(3, core.Sell, bob, tokenT, 50, 1),
		order(7, core.Sell, carol, tokenT, 50, 1),
	})
	if got, want := ids(book.Sells(tokenT)), []uint64{9, 3, 7}; !equalIDs(got, want) {
		t.Errorf("sells = %v, want %v", got, want)
	}
}

func TestBuild_DropsEmptyOrders(t *testing.T) {
	book := Build([]core.Order{
		order(1, core.Buy, alice, tokenT, 100, 0),
		order(2, core.Sell, bob, tokenT, 90, 5),
		{ID: 3, Owner: carol, Token: tokenT, Side: core.Buy},
	})
	if book.Len() != 1 {
		t.Fatalf("len = %d, want 1", book.Len())
	}
	if len(book.Buys(tokenT)) != 0 {
		t.Errorf("zero-size buy admitted")
	}
}

func TestBuild_GroupsByTokenInFirstSeenOrder(t *testing.T) {
	book := Build([]core.Order{
		order(1, core.Buy, alice, tokenU, 10, 1),
		order(2, core.Sell, bob, tokenT, 10, 1),
		order(3, core.Sell, bob, tokenU, 10, 1),
	})
	tokens := book.Tokens()
	if len(tokens) != 2 || tokens[0] != tokenU || tokens[1] != tokenT {
		t.Fatalf("tokens = %v, want [U T]", tokens)
	}
	if len(book.Sells(tokenU)) != 1 || len(book.Sells(tokenT)) != 1 {
		t.Errorf("orders not grouped by token")
	}
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	in := []core.Order{order(1, core.Buy, alice, tokenT, 100, 10)}
	book := Build(in)
	in[0].Size.SetUint64(1)

	if got := book.Buys(tokenT)[0].Size.Uint64(); got != 10 {
		t.Errorf("book size changed with input: %d", got)
	}
}

func TestLevels(t *testing.T) {
	book := Build([]core.Order{
		order(1, core.Buy, alice, tokenT, 100, 2),
		order(2, core.Buy, bob, tokenT, 100, 3),
		order(3, core.Buy, carol, tokenT, 90, 1),
		order(4, core.Sell, alice, tokenT, 110, 4),
	})

	bids := book.BidLevels(tokenT)
	if len(bids) != 2 {
		t.Fatalf("bid levels = %d, want 2", len(bids))
	}
	if bids[0].Price.Uint64() != 100 || bids[0].Qty.Uint64() != 5 || bids[0].Count != 2 {
		t.Errorf("best bid level = %s x %s (%d)", bids[0].Price, bids[0].Qty, bids[0].Count)
	}
	if bids[1].Price.Uint64() != 90 {
		t.Errorf("second bid level price = %s, want 90", bids[1].Price)
	}

	asks := book.AskLevels(tokenT)
	if len(asks) != 1 || asks[0].Qty.Uint64() != 4 {
		t.Errorf("ask levels = %+v", asks)
	}
	if book.AskLevels(tokenU) != nil {
		t.Errorf("unknown token should have no levels")
	}
}
