// Package retrieval reads and decodes individual orders from the contract.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/util"
)

var (
	ErrNotFound = errors.New("order does not exist")
	ErrFilled   = errors.New("order already filled")
)

// Stats counts how each requested id resolved during one RetrieveAll.
type Stats struct {
	Requested uint64
	Retrieved int
	NotFound  int
	Filled    int
	Failed    int
}

type Config struct {
	// Batch and Pause pace retrieval: after every Batch orders the retriever
	// waits Pause. Zero disables pacing.
	Batch int
	Pause time.Duration
}

type Retriever struct {
	ch       channel.Channel
	contract *contract.Contract
	clock    util.Clock
	cfg      Config
	logger   *zap.SugaredLogger
}

func New(ch channel.Channel, c *contract.Contract, clock util.Clock, cfg Config, logger *zap.SugaredLogger) *Retriever {
	return &Retriever{ch: ch, contract: c, clock: clock, cfg: cfg, logger: logger}
}

// Count returns getTotalOrderCount. Ids range over 1..count.
func (r *Retriever) Count(ctx context.Context) (uint64, error) {
	data, err := r.view(ctx, r.contract.PackTotalOrderCount)
	if err != nil {
		return 0, fmt.Errorf("total order count: %w", err)
	}
	n, err := r.contract.UnpackCount(data)
	if err != nil {
		return 0, fmt.Errorf("total order count: %w", err)
	}
	return n, nil
}

// Retrieve returns the open order id, or false when it does not exist, is
// filled, or cannot be read or decoded. Failures are logged, never returned.
func (r *Retriever) Retrieve(ctx context.Context, id uint64) (core.Order, bool) {
	o, err := r.Fetch(ctx, id)
	if err != nil {
		r.logSkip(id, err)
		return core.Order{}, false
	}
	return o, true
}

// Fetch runs the retrieval steps for id and reports why an order was not
// returned. ErrNotFound and ErrFilled are expected outcomes; any other error
// wraps a channel or contract sentinel.
func (r *Retriever) Fetch(ctx context.Context, id uint64) (core.Order, error) {
	exists, err := r.viewBool(ctx, contract.MethodOrderExists, func() ([]byte, error) { return r.contract.PackOrderExists(id) })
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d exists: %w", id, err)
	}
	if !exists {
		return core.Order{}, ErrNotFound
	}

	filled, err := r.viewBool(ctx, contract.MethodFilledOrders, func() ([]byte, error) { return r.contract.PackFilledOrders(id) })
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d filled: %w", id, err)
	}
	if filled {
		return core.Order{}, ErrFilled
	}

	data, err := r.view(ctx, func() ([]byte, error) { return r.contract.PackOrderOwner(id) })
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d owner: %w", id, err)
	}
	owner, err := r.contract.UnpackAddress(contract.MethodOrderOwner, data)
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d owner: %w", id, err)
	}

	data, err = r.view(ctx, func() ([]byte, error) { return r.contract.PackEncryptedOrder(id) })
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d payload: %w", id, err)
	}
	payload, err := r.contract.UnpackBytes(contract.MethodEncryptedOrder, data)
	if err != nil {
		return core.Order{}, fmt.Errorf("order %d payload: %w", id, err)
	}

	o, err := contract.DecodeOrderFor(id, owner, payload)
	if err != nil {
		return core.Order{}, err
	}
	return o, nil
}

// RetrieveAll reads ids 1..count in ascending order. Individual orders that
// fail are skipped. A connectivity failure aborts the sweep and is returned
// together with what was read so far.
func (r *Retriever) RetrieveAll(ctx context.Context, count uint64) ([]core.Order, Stats, error) {
	stats := Stats{Requested: count}
	orders := make([]core.Order, 0, capHint(count))

	for id := uint64(1); id <= count; id++ {
		o, err := r.Fetch(ctx, id)
		switch {
		case err == nil:
			orders = append(orders, o)
			stats.Retrieved++
		case errors.Is(err, ErrNotFound):
			stats.NotFound++
		case errors.Is(err, ErrFilled):
			stats.Filled++
		case errors.Is(err, channel.ErrUnreachable):
			stats.Failed++
			return orders, stats, fmt.Errorf("retrieve: %w", err)
		default:
			stats.Failed++
			r.logSkip(id, err)
		}

		if r.cfg.Batch > 0 && r.cfg.Pause > 0 && id < count && id%uint64(r.cfg.Batch) == 0 {
			<-r.clock.After(r.cfg.Pause)
		}
	}

	r.logger.Infow("orders_retrieved",
		"requested", stats.Requested,
		"retrieved", stats.Retrieved,
		"not_found", stats.NotFound,
		"filled", stats.Filled,
		"failed", stats.Failed,
	)
	return orders, stats, nil
}

func (r *Retriever) logSkip(id uint64, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrFilled):
		r.logger.Debugw("order_skipped", "order_id", id, "reason", err.Error())
	case errors.Is(err, contract.ErrDecode):
		r.logger.Warnw("order_dropped", "order_id", id, "class", "decode", "err", err)
	default:
		r.logger.Warnw("order_dropped", "order_id", id, "class", channel.Class(err), "err", err)
	}
}

func (r *Retriever) view(ctx context.Context, pack func() ([]byte, error)) ([]byte, error) {
	calldata, err := pack()
	if err != nil {
		return nil, err
	}
	return r.ch.CallView(ctx, r.contract.Address, calldata)
}

func (r *Retriever) viewBool(ctx context.Context, method string, pack func() ([]byte, error)) (bool, error) {
	data, err := r.view(ctx, pack)
	if err != nil {
		return false, err
	}
	return r.contract.UnpackBool(method, data)
}

func capHint(count uint64) int {
	const limit = 1 << 16
	if count > limit {
		return limit
	}
	return int(count)
}
