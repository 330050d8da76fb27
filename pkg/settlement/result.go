package settlement

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

// Result is the terminal outcome of one settlement attempt.
type Result struct {
	Match   core.Match
	Success bool
	// TxHash is zero when nothing was submitted.
	TxHash   common.Hash
	Err      error
	Attempts int
	GasUsed  uint64

	StartedAt  time.Time
	FinishedAt time.Time
}

func (r Result) Submitted() bool { return r.TxHash != (common.Hash{}) }

// Reason is the failure text, empty on success.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Entry is the flat, serializable form of a Result used by audit sinks and
// the status API.
type Entry struct {
	BuyOrderID  uint64    `json:"buyOrderId"`
	SellOrderID uint64    `json:"sellOrderId"`
	Token       string    `json:"token"`
	Buyer       string    `json:"buyer"`
	Seller      string    `json:"seller"`
	Quantity    string    `json:"quantity"`
	Price       string    `json:"price"`
	Success     bool      `json:"success"`
	TxHash      string    `json:"txHash,omitempty"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	GasUsed     uint64    `json:"gasUsed,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

func (r Result) Entry() Entry {
	e := Entry{
		BuyOrderID:  r.Match.BuyOrderID,
		SellOrderID: r.Match.SellOrderID,
		Token:       r.Match.Token.Hex(),
		Buyer:       r.Match.Buyer.Hex(),
		Seller:      r.Match.Seller.Hex(),
		Success:     r.Success,
		Error:       r.Reason(),
		Attempts:    r.Attempts,
		GasUsed:     r.GasUsed,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
	if r.Match.Quantity != nil {
		e.Quantity = r.Match.Quantity.Dec()
	}
	if r.Match.ExecutionPrice != nil {
		e.Price = r.Match.ExecutionPrice.Dec()
	}
	if r.Submitted() {
		e.TxHash = r.TxHash.Hex()
	}
	return e
}
