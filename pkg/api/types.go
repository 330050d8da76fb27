package api

import (
	"time"

	"github.com/uhyunpark/darkpool-oracle/pkg/storage"
)

// Identity describes who the oracle is and what it serves.
type Identity struct {
	Address  string `json:"address"`
	Mode     string `json:"mode"`
	Contract string `json:"contract"`
}

// Totals accumulate over the process lifetime.
type Totals struct {
	Cycles         uint64 `json:"cycles"`
	FailedCycles   uint64 `json:"failedCycles"`
	MatchesFound   uint64 `json:"matchesFound"`
	MatchesSettled uint64 `json:"matchesSettled"`
	MatchesFailed  uint64 `json:"matchesFailed"`
}

type StatusResponse struct {
	Identity  Identity             `json:"identity"`
	StartedAt time.Time            `json:"startedAt"`
	LastCycle *storage.CycleRecord `json:"lastCycle,omitempty"`
	Totals    Totals               `json:"totals"`
}

// WebSocket channels.
const (
	ChannelCycles      = "cycles"
	ChannelSettlements = "settlements"
)

type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "cycles", "settlements"
}

// WSMessage wraps every pushed event.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
