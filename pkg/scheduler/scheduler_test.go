package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/channel/channeltest"
	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/retrieval"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
	"github.com/uhyunpark/darkpool-oracle/pkg/util/utiltest"
)

var (
	oracleAddr   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	contractAddr = common.HexToAddress("0x1bc94B51C5040E7A64FE5F42F51C328d7398969e")
	tokenT       = common.HexToAddress("0x0000000000000000000000000000000000000070")
	alice        = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol        = common.HexToAddress("0x00000000000000000000000000000000000ca401")
)

func order(id uint64, owner common.Address, side core.Side, price, size uint64) core.Order {
	return core.Order{
		ID: id, Owner: owner, Token: tokenT, Side: side,
		Price: uint256.NewInt(price), Size: uint256.NewInt(size),
	}
}

type harness struct {
	sched *Scheduler
	chain *channeltest.Chain
	clock *utiltest.StepClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c, err := contract.New(contractAddr)
	if err != nil {
		t.Fatal(err)
	}
	chain := channeltest.New(c, oracleAddr)
	clock := utiltest.NewStepClock(time.Unix(1_700_000_000, 0))
	logger := zap.NewNop().Sugar()

	r := retrieval.New(chain, c, clock, retrieval.Config{}, logger)
	ex, err := settlement.NewExecutor(chain, c, clock, settlement.Config{PollAttempts: 2, PollInterval: time.Second}, logger)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{sched: New(r, ex, clock, 30*time.Second, logger), chain: chain, clock: clock}
}

func TestRunOnce_SettlesSweep(t *testing.T) {
	h := newHarness(t)
	h.chain.Add(
		order(1, alice, core.Buy, 100, 10),
		order(2, bob, core.Sell, 90, 3),
		order(3, carol, core.Sell, 98, 8),
	)

	sum := h.sched.RunOnce(context.Background())
	if sum.Err != nil {
		t.Fatalf("cycle err: %v", sum.Err)
	}
	if sum.Cycle != 1 || sum.OrdersSeen != 3 || sum.OrdersActive != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.MatchesFound != 2 || sum.MatchesSettled != 2 || sum.MatchesFailed != 0 {
		t.Errorf("matches found/settled/failed = %d/%d/%d", sum.MatchesFound, sum.MatchesSettled, sum.MatchesFailed)
	}

	got := h.chain.Matches()
	if len(got) != 2 {
		t.Fatalf("submitted %d matches", len(got))
	}
	if got[0].SellOrderID != 2 || got[0].Quantity.Uint64() != 3 || got[0].ExecutionPrice.Uint64() != 90 {
		t.Errorf("first match = %s", got[0])
	}
	if got[1].SellOrderID != 3 || got[1].Quantity.Uint64() != 7 || got[1].ExecutionPrice.Uint64() != 98 {
		t.Errorf("second match = %s", got[1])
	}
}

func TestRunOnce_FilledOrdersSkippedNextCycle(t *testing.T) {
	h := newHarness(t)
	h.chain.FillOnSettle = true
	h.chain.Add(order(1, alice, core.Buy, 100, 3), order(2, bob, core.Sell, 90, 3))

	if sum := h.sched.RunOnce(context.Background()); sum.MatchesSettled != 1 {
		t.Fatalf("first cycle = %+v", sum)
	}
	sum := h.sched.RunOnce(context.Background())
	if sum.Cycle != 2 || sum.OrdersActive != 0 || sum.MatchesFound != 0 {
		t.Errorf("second cycle = %+v", sum)
	}
}

func TestRunOnce_FailedSettlementCounted(t *testing.T) {
	h := newHarness(t)
	h.chain.Add(order(1, alice, core.Buy, 100, 3), order(2, bob, core.Sell, 90, 3))
	h.chain.Revert = func(core.Match) bool { return true }

	sum := h.sched.RunOnce(context.Background())
	if sum.Err != nil || sum.MatchesFound != 1 || sum.MatchesFailed != 1 || sum.MatchesSettled != 0 {
		t.Errorf("summary = %+v", sum)
	}
	if !errors.Is(sum.Results[0].Err, settlement.ErrReverted) {
		t.Errorf("result err = %v", sum.Results[0].Err)
	}
}

func TestRunOnce_ConnectivityAbortsCycle(t *testing.T) {
	h := newHarness(t)
	h.chain.Add(order(1, alice, core.Buy, 100, 3))
	h.chain.ViewErr = func(string, uint64) error { return channel.ErrUnreachable }

	sum := h.sched.RunOnce(context.Background())
	if !errors.Is(sum.Err, channel.ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", sum.Err)
	}
	if len(h.chain.Submitted) != 0 {
		t.Error("settled despite aborted cycle")
	}
}

type panicSettler struct{}

func (panicSettler) ExecuteAll(context.Context, []core.Match) []settlement.Result {
	panic("boom")
}

type ctxSettler struct{ sawCancelled bool }

func (c *ctxSettler) ExecuteAll(ctx context.Context, matches []core.Match) []settlement.Result {
	c.sawCancelled = ctx.Err() != nil
	out := make([]settlement.Result, len(matches))
	for i, m := range matches {
		out[i] = settlement.Result{Match: m, Success: true}
	}
	return out
}

func newWithSettler(t *testing.T, s Settler) (*Scheduler, *channeltest.Chain) {
	t.Helper()
	c, _ := contract.New(contractAddr)
	chain := channeltest.New(c, oracleAddr)
	clock := utiltest.NewStepClock(time.Unix(0, 0))
	r := retrieval.New(chain, c, clock, retrieval.Config{}, zap.NewNop().Sugar())
	return New(r, s, clock, time.Second, zap.NewNop().Sugar()), chain
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	sched, chain := newWithSettler(t, panicSettler{})
	chain.Add(order(1, alice, core.Buy, 100, 3), order(2, bob, core.Sell, 90, 3))

	var observed []Summary
	sched.OnCycle(func(s Summary) { observed = append(observed, s) })

	sum := sched.RunOnce(context.Background())
	if !errors.Is(sum.Err, ErrPanic) {
		t.Errorf("err = %v, want ErrPanic", sum.Err)
	}
	if len(observed) != 1 || observed[0].Cycle != 1 {
		t.Errorf("observers saw %+v", observed)
	}
}

func TestRunOnce_IgnoresCancellationMidCycle(t *testing.T) {
	settler := &ctxSettler{}
	sched, chain := newWithSettler(t, settler)
	chain.Add(order(1, alice, core.Buy, 100, 3), order(2, bob, core.Sell, 90, 3))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum := sched.RunOnce(ctx)
	if sum.MatchesSettled != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if settler.sawCancelled {
		t.Error("settlement saw a cancelled context")
	}
}

func TestRun_StopsBetweenCycles(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var cycles []uint64
	h.sched.OnCycle(func(s Summary) {
		cycles = append(cycles, s.Cycle)
		if s.Cycle == 3 {
			cancel()
		}
	})

	if err := h.sched.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(cycles) != 3 {
		t.Fatalf("ran %d cycles, want 3", len(cycles))
	}
	var intervals int
	for _, w := range h.clock.Waits() {
		if w == 30*time.Second {
			intervals++
		}
	}
	if intervals < 2 {
		t.Errorf("slept %d intervals, want at least 2", intervals)
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.sched.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if h.sched.cycle != 0 {
		t.Errorf("ran %d cycles after cancellation", h.sched.cycle)
	}
}
