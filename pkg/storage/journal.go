// Package storage keeps an append-only audit journal of settlements and
// cycle summaries. The matching pipeline never reads it; it exists for
// operators and the status API.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/uhyunpark/darkpool-oracle/pkg/scheduler"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
)

// CycleRecord is the persisted form of a scheduler summary.
type CycleRecord struct {
	Cycle          uint64    `json:"cycle"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMs     int64     `json:"durationMs"`
	OrdersSeen     uint64    `json:"ordersSeen"`
	OrdersActive   int       `json:"ordersActive"`
	MatchesFound   int       `json:"matchesFound"`
	MatchesSettled int       `json:"matchesSettled"`
	MatchesFailed  int       `json:"matchesFailed"`
	Error          string    `json:"error,omitempty"`
}

func CycleRecordFrom(s scheduler.Summary) CycleRecord {
	rec := CycleRecord{
		Cycle:          s.Cycle,
		StartedAt:      s.StartedAt,
		DurationMs:     s.Duration.Milliseconds(),
		OrdersSeen:     s.OrdersSeen,
		OrdersActive:   s.OrdersActive,
		MatchesFound:   s.MatchesFound,
		MatchesSettled: s.MatchesSettled,
		MatchesFailed:  s.MatchesFailed,
	}
	if s.Err != nil {
		rec.Error = s.Err.Error()
	}
	return rec
}

type Journal struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

func OpenJournal(path string) (*Journal, error) {
	return open(path, &pebble.Options{})
}

// OpenMemJournal opens a journal backed by an in-memory filesystem.
func OpenMemJournal() (*Journal, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Journal, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error { return j.db.Close() }

// Record appends a settlement outcome. It satisfies settlement.Recorder.
func (j *Journal) Record(_ context.Context, r settlement.Result) error {
	data, err := json.Marshal(r.Entry())
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}

	ts := r.FinishedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	j.mu.Lock()
	j.seq++
	key := settlementKey(ts.UnixNano(), j.seq)
	j.mu.Unlock()

	if err := j.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save settlement: %w", err)
	}
	return nil
}

// SaveCycle stores a cycle summary keyed by cycle number.
func (j *Journal) SaveCycle(rec CycleRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cycle: %w", err)
	}
	if err := j.db.Set(cycleKey(rec.Cycle), data, pebble.NoSync); err != nil {
		return fmt.Errorf("failed to save cycle: %w", err)
	}
	return nil
}

// RecentSettlements returns up to limit entries, newest first.
func (j *Journal) RecentSettlements(limit int) ([]settlement.Entry, error) {
	return recent[settlement.Entry](j.db, []byte(prefixSettlement), limit)
}

// RecentCycles returns up to limit cycle records, newest first.
func (j *Journal) RecentCycles(limit int) ([]CycleRecord, error) {
	return recent[CycleRecord](j.db, []byte(prefixCycle), limit)
}

func recent[T any](db *pebble.DB, prefix []byte, limit int) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []T
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var v T
		if err := json.Unmarshal(iter.Value(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

var _ settlement.Recorder = (*Journal)(nil)
