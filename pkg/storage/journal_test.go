package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/scheduler"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
)

func result(buy, sell uint64, at time.Time, err error) settlement.Result {
	return settlement.Result{
		Match: core.Match{
			BuyOrderID: buy, SellOrderID: sell,
			Token:    common.HexToAddress("0x70"),
			Quantity: uint256.NewInt(3), ExecutionPrice: uint256.NewInt(90),
		},
		Success:    err == nil,
		Err:        err,
		TxHash:     common.HexToHash("0xabc"),
		FinishedAt: at,
	}
}

func TestJournal_RecentSettlementsNewestFirst(t *testing.T) {
	j, err := OpenMemJournal()
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	base := time.Unix(1_700_000_000, 0)
	ctx := context.Background()
	for i := uint64(1); i <= 5; i++ {
		if err := j.Record(ctx, result(i, i+100, base.Add(time.Duration(i)*time.Second), nil)); err != nil {
			t.Fatal(err)
		}
	}
	if err := j.Record(ctx, result(9, 10, base.Add(10*time.Second), settlement.ErrReverted)); err != nil {
		t.Fatal(err)
	}

	got, err := j.RecentSettlements(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].BuyOrderID != 9 || got[0].Success || got[0].Error != "reverted" {
		t.Errorf("newest = %+v", got[0])
	}
	if got[1].BuyOrderID != 5 || got[2].BuyOrderID != 4 {
		t.Errorf("order = %d, %d", got[1].BuyOrderID, got[2].BuyOrderID)
	}
	if got[1].Quantity != "3" || got[1].Price != "90" {
		t.Errorf("amounts = %s @ %s", got[1].Quantity, got[1].Price)
	}
}

func TestJournal_SameTimestamp(t *testing.T) {
	j, _ := OpenMemJournal()
	defer j.Close()

	at := time.Unix(1_700_000_000, 0)
	_ = j.Record(context.Background(), result(1, 2, at, nil))
	_ = j.Record(context.Background(), result(3, 4, at, nil))

	got, _ := j.RecentSettlements(10)
	if len(got) != 2 || got[0].BuyOrderID != 3 {
		t.Errorf("entries = %+v", got)
	}
}

func TestJournal_Cycles(t *testing.T) {
	j, _ := OpenMemJournal()
	defer j.Close()

	for c := uint64(1); c <= 3; c++ {
		sum := scheduler.Summary{Cycle: c, MatchesFound: int(c), Duration: 1500 * time.Millisecond}
		if c == 3 {
			sum.Err = errors.New("unreachable")
		}
		if err := j.SaveCycle(CycleRecordFrom(sum)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.RecentCycles(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Cycle != 3 || got[0].Error != "unreachable" || got[2].DurationMs != 1500 {
		t.Errorf("cycles = %+v", got)
	}

	settlements, _ := j.RecentSettlements(10)
	if len(settlements) != 0 {
		t.Errorf("cycle records leaked into settlements: %+v", settlements)
	}
}

func TestJournal_ReopenOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	_ = j.Record(context.Background(), result(1, 2, time.Unix(1, 0), nil))
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j, err = OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	got, _ := j.RecentSettlements(1)
	if len(got) != 1 || got[0].BuyOrderID != 1 {
		t.Errorf("after reopen = %+v", got)
	}
}

func TestKeyUpperBound(t *testing.T) {
	if got := string(keyUpperBound([]byte("stl:"))); got != "stl;" {
		t.Errorf("upper bound = %q", got)
	}
}
