// Package scheduler drives matching cycles: read all open orders, build the
// book, match, settle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/core/orderbook"
	"github.com/uhyunpark/darkpool-oracle/pkg/retrieval"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
	"github.com/uhyunpark/darkpool-oracle/pkg/util"
)

var ErrPanic = errors.New("cycle panicked")

type Retriever interface {
	Count(ctx context.Context) (uint64, error)
	RetrieveAll(ctx context.Context, count uint64) ([]core.Order, retrieval.Stats, error)
}

type Settler interface {
	ExecuteAll(ctx context.Context, matches []core.Match) []settlement.Result
}

// Summary describes one finished cycle.
type Summary struct {
	Cycle          uint64
	StartedAt      time.Time
	Duration       time.Duration
	OrdersSeen     uint64
	OrdersActive   int
	MatchesFound   int
	MatchesSettled int
	MatchesFailed  int
	Results        []settlement.Result
	Err            error
}

type Scheduler struct {
	retriever Retriever
	settler   Settler
	clock     util.Clock
	interval  time.Duration
	logger    *zap.SugaredLogger

	observers []func(Summary)
	cycle     uint64
}

func New(r Retriever, s Settler, clock util.Clock, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{retriever: r, settler: s, clock: clock, interval: interval, logger: logger}
}

// OnCycle registers fn to receive every cycle summary. Not safe to call
// concurrently with Run.
func (s *Scheduler) OnCycle(fn func(Summary)) {
	s.observers = append(s.observers, fn)
}

// Run repeats cycles every interval until ctx is cancelled. Cancellation is
// only observed between cycles.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Infow("scheduler_started", "interval", s.interval.String())
	for ctx.Err() == nil {
		s.RunOnce(ctx)

		select {
		case <-ctx.Done():
		case <-s.clock.After(s.interval):
		}
	}
	s.logger.Infow("scheduler_stopped", "cycles", s.cycle)
	return nil
}

// RunOnce performs a single cycle. It never panics; failures are reported in
// the returned Summary. ctx cancellation does not interrupt the cycle.
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	s.cycle++
	sum := Summary{Cycle: s.cycle, StartedAt: s.clock.Now()}

	s.runCycle(context.WithoutCancel(ctx), &sum)
	sum.Duration = s.clock.Now().Sub(sum.StartedAt)

	if sum.Err != nil {
		s.logger.Errorw("cycle_failed",
			"cycle", sum.Cycle,
			"orders_seen", sum.OrdersSeen,
			"matches_found", sum.MatchesFound,
			"matches_settled", sum.MatchesSettled,
			"err", sum.Err,
		)
	} else {
		s.logger.Infow("cycle_complete",
			"cycle", sum.Cycle,
			"orders_seen", sum.OrdersSeen,
			"orders_active", sum.OrdersActive,
			"matches_found", sum.MatchesFound,
			"matches_settled", sum.MatchesSettled,
			"matches_failed", sum.MatchesFailed,
			"duration", sum.Duration.String(),
		)
	}

	for _, fn := range s.observers {
		fn(sum)
	}
	return sum
}

func (s *Scheduler) runCycle(ctx context.Context, sum *Summary) {
	defer func() {
		if r := recover(); r != nil {
			sum.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			s.logger.Errorw("cycle_panic", "cycle", sum.Cycle, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	count, err := s.retriever.Count(ctx)
	if err != nil {
		sum.Err = err
		return
	}
	sum.OrdersSeen = count

	orders, _, err := s.retriever.RetrieveAll(ctx, count)
	if err != nil {
		sum.Err = err
		return
	}

	book := orderbook.Build(orders)
	sum.OrdersActive = book.Len()
	s.logBook(book)

	matches := orderbook.Match(book)
	sum.MatchesFound = len(matches)
	if len(matches) == 0 {
		return
	}

	sum.Results = s.settler.ExecuteAll(ctx, matches)
	for _, r := range sum.Results {
		if r.Success {
			sum.MatchesSettled++
		} else {
			sum.MatchesFailed++
		}
	}
}

func (s *Scheduler) logBook(book *orderbook.OrderBook) {
	if !s.logger.Desugar().Core().Enabled(zapcore.DebugLevel) {
		return
	}
	for _, token := range book.Tokens() {
		s.logger.Debugw("order_book",
			"token", token.Hex(),
			"bids", formatLevels(book.BidLevels(token)),
			"asks", formatLevels(book.AskLevels(token)),
		)
	}
}

func formatLevels(levels []orderbook.PriceLevel) []string {
	out := make([]string, 0, len(levels))
	for _, l := range levels {
		out = append(out, fmt.Sprintf("%s x %s (%d)", l.Price.Dec(), l.Qty.Dec(), l.Count))
	}
	return out
}
