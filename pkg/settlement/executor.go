// Package settlement submits matches to the contract and classifies their
// outcome. Nothing here retries: a failed settlement is reported and the next
// matching cycle re-evaluates the orders from chain state.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/util"
)

var (
	ErrReverted              = errors.New("reverted")
	ErrConfirmationTimeout   = errors.New("confirmation timeout")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrOracleMismatch        = errors.New("oracle address mismatch")
)

// Recorder receives every settlement result. Errors are logged and ignored.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

type Config struct {
	PollAttempts int
	PollInterval time.Duration
	// GasLimit is passed to the channel; zero lets the channel estimate.
	GasLimit uint64
	// CheckAllowance reads the buyer's ERC-20 allowance for the contract
	// before submitting and fails the match when it is below the quantity.
	CheckAllowance bool
}

func DefaultConfig() Config {
	return Config{
		PollAttempts: 30,
		PollInterval: 2 * time.Second,
	}
}

type Executor struct {
	ch        channel.Channel
	contract  *contract.Contract
	token     *contract.Token
	clock     util.Clock
	cfg       Config
	recorders []Recorder
	logger    *zap.SugaredLogger
}

func NewExecutor(ch channel.Channel, c *contract.Contract, clock util.Clock, cfg Config, logger *zap.SugaredLogger, recorders ...Recorder) (*Executor, error) {
	if cfg.PollAttempts < 1 {
		return nil, fmt.Errorf("poll attempts must be positive, got %d", cfg.PollAttempts)
	}
	tok, err := contract.NewToken()
	if err != nil {
		return nil, err
	}
	return &Executor{
		ch:        ch,
		contract:  c,
		token:     tok,
		clock:     clock,
		cfg:       cfg,
		recorders: recorders,
		logger:    logger,
	}, nil
}

// ExecuteAll settles matches one at a time in the given order.
func (e *Executor) ExecuteAll(ctx context.Context, matches []core.Match) []Result {
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, e.Execute(ctx, m))
	}
	return results
}

func (e *Executor) Execute(ctx context.Context, m core.Match) Result {
	res := e.execute(ctx, m)
	res.FinishedAt = e.clock.Now()

	if res.Success {
		e.logger.Infow("settlement_confirmed",
			"buy_order_id", m.BuyOrderID,
			"sell_order_id", m.SellOrderID,
			"quantity", m.Quantity.Dec(),
			"price", m.ExecutionPrice.Dec(),
			"tx_hash", res.TxHash.Hex(),
			"attempts", res.Attempts,
			"gas_used", res.GasUsed,
		)
	} else {
		e.logger.Warnw("settlement_failed",
			"buy_order_id", m.BuyOrderID,
			"sell_order_id", m.SellOrderID,
			"tx_hash", txHashField(res),
			"class", channel.Class(res.Err),
			"err", res.Reason(),
		)
	}

	for _, r := range e.recorders {
		if err := r.Record(ctx, res); err != nil {
			e.logger.Warnw("settlement_record_failed", "buy_order_id", m.BuyOrderID, "sell_order_id", m.SellOrderID, "err", err)
		}
	}
	return res
}

func (e *Executor) execute(ctx context.Context, m core.Match) Result {
	res := Result{Match: m, StartedAt: e.clock.Now()}

	if e.cfg.CheckAllowance {
		if err := e.checkAllowance(ctx, m); err != nil {
			res.Err = err
			return res
		}
	}

	data, err := e.contract.PackExecuteMatch(m)
	if err != nil {
		res.Err = fmt.Errorf("pack executeMatch: %w", err)
		return res
	}
	hash, err := e.ch.SubmitTransaction(ctx, e.contract.Address, data, e.cfg.GasLimit)
	if errors.Is(err, channel.ErrReverted) {
		// Same outcome as a mined revert, only caught before broadcast.
		e.logger.Debugw("settlement_reverted_before_submit",
			"buy_order_id", m.BuyOrderID, "sell_order_id", m.SellOrderID, "err", err)
		res.Err = ErrReverted
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}
	res.TxHash = hash

	receipt, attempts, err := e.confirm(ctx, hash)
	res.Attempts = attempts
	if err != nil {
		res.Err = err
		return res
	}
	res.Success = true
	res.GasUsed = receipt.GasUsed
	return res
}

// confirm polls for the receipt of hash. Poll errors other than "not found"
// consume an attempt like a pending poll does.
func (e *Executor) confirm(ctx context.Context, hash common.Hash) (*types.Receipt, int, error) {
	for attempt := 1; attempt <= e.cfg.PollAttempts; attempt++ {
		receipt, err := e.ch.Receipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, attempt, ErrReverted
			}
			return receipt, attempt, nil
		}
		if !errors.Is(err, channel.ErrReceiptNotFound) {
			e.logger.Debugw("receipt_poll_error", "tx_hash", hash.Hex(), "attempt", attempt, "err", err)
		}
		if attempt < e.cfg.PollAttempts {
			<-e.clock.After(e.cfg.PollInterval)
		}
	}
	return nil, e.cfg.PollAttempts, ErrConfirmationTimeout
}

func (e *Executor) checkAllowance(ctx context.Context, m core.Match) error {
	data, err := e.token.PackAllowance(m.Buyer, e.contract.Address)
	if err != nil {
		return fmt.Errorf("pack allowance: %w", err)
	}
	out, err := e.ch.CallView(ctx, m.Token, data)
	if err != nil {
		return fmt.Errorf("allowance of %s: %w", m.Buyer.Hex(), err)
	}
	allowance, err := e.token.UnpackAllowance(out)
	if err != nil {
		return fmt.Errorf("allowance of %s: %w", m.Buyer.Hex(), err)
	}
	if allowance.Lt(m.Quantity) {
		return fmt.Errorf("%w: buyer %s allows %s, needs %s",
			ErrInsufficientAllowance, m.Buyer.Hex(), allowance.Dec(), m.Quantity.Dec())
	}
	return nil
}

// EnsureOracle makes the channel identity the contract's registered oracle,
// submitting setOracle when it is not. Any failure means the oracle cannot
// operate.
func (e *Executor) EnsureOracle(ctx context.Context) error {
	self := e.ch.Address()

	current, err := e.RegisteredOracle(ctx)
	if err != nil {
		return err
	}
	if current == self {
		e.logger.Infow("oracle_registered", "address", self.Hex())
		return nil
	}

	e.logger.Infow("oracle_update", "current", current.Hex(), "self", self.Hex())
	data, err := e.contract.PackSetOracle(self)
	if err != nil {
		return fmt.Errorf("pack setOracle: %w", err)
	}
	hash, err := e.ch.SubmitTransaction(ctx, e.contract.Address, data, e.cfg.GasLimit)
	if err != nil {
		return fmt.Errorf("set oracle: %w", err)
	}
	if _, _, err := e.confirm(ctx, hash); err != nil {
		return fmt.Errorf("set oracle %s: %w", hash.Hex(), err)
	}

	current, err = e.RegisteredOracle(ctx)
	if err != nil {
		return err
	}
	if current != self {
		return fmt.Errorf("%w: contract reports %s, oracle is %s", ErrOracleMismatch, current.Hex(), self.Hex())
	}
	e.logger.Infow("oracle_registered", "address", self.Hex(), "tx_hash", hash.Hex())
	return nil
}

// RegisteredOracle reads the oracle address the contract currently accepts.
func (e *Executor) RegisteredOracle(ctx context.Context) (common.Address, error) {
	data, err := e.contract.PackOracle()
	if err != nil {
		return common.Address{}, err
	}
	out, err := e.ch.CallView(ctx, e.contract.Address, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("read oracle: %w", err)
	}
	addr, err := e.contract.UnpackAddress(contract.MethodOracle, out)
	if err != nil {
		return common.Address{}, fmt.Errorf("read oracle: %w", err)
	}
	return addr, nil
}

func txHashField(r Result) string {
	if !r.Submitted() {
		return ""
	}
	return r.TxHash.Hex()
}
