// Package channel carries view calls and signed transactions between the
// oracle and the chain. Two transports exist: a direct JSON-RPC connection
// signing with a local key, and a delegated one where a local trust
// authority holds the key and signs on the oracle's behalf.
package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrUnreachable  = errors.New("unreachable")
	ErrMalformed    = errors.New("malformed response")
	ErrRejected     = errors.New("transaction rejected")
	// ErrReverted marks a transaction the node refused because executing it
	// reverts, caught before broadcast.
	ErrReverted        = errors.New("execution reverted")
	ErrReceiptNotFound = errors.New("receipt not found")
)

type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeDelegated Mode = "delegated"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDirect, ModeDelegated:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown channel mode %q (want %q or %q)", s, ModeDirect, ModeDelegated)
}

// Channel is the only path the oracle uses to reach the chain. Calls are
// attempted once; retry policy belongs to the caller.
type Channel interface {
	CallView(ctx context.Context, target common.Address, data []byte) ([]byte, error)
	// SubmitTransaction signs and broadcasts a call to target. A gasLimit of
	// zero asks the channel to estimate.
	SubmitTransaction(ctx context.Context, target common.Address, data []byte, gasLimit uint64) (common.Hash, error)
	// Receipt returns ErrReceiptNotFound while the transaction is pending.
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	Address() common.Address
	Mode() Mode
}

// Class names the error class of err for logging.
func Class(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnauthorized):
		return "authorization"
	case errors.Is(err, ErrUnreachable):
		return "connectivity"
	case errors.Is(err, ErrMalformed):
		return "decode"
	case errors.Is(err, ErrReverted):
		return "reverted"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrReceiptNotFound):
		return "pending"
	}
	return "other"
}
