// Package events publishes settlement outcomes to Kafka for downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
)

const (
	HeaderEventType = "event_type"
	EventSettlement = "settlement"

	// DefaultTimeout bounds one Record call. Settlements are recorded inline,
	// so an unreachable broker must not hold up the next match.
	DefaultTimeout = 5 * time.Second
)

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer MessageWriter
	// Timeout caps each publish, including the writer's own retries.
	Timeout time.Duration
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return NewPublisherWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: DefaultTimeout,
		MaxAttempts:  3,
	})
}

func NewPublisherWithWriter(w MessageWriter) *Publisher {
	return &Publisher{writer: w, Timeout: DefaultTimeout}
}

// Record publishes r keyed by its order pair so one pair's events stay on
// one partition.
func (p *Publisher) Record(ctx context.Context, r settlement.Result) error {
	value, err := json.Marshal(r.Entry())
	if err != nil {
		return fmt.Errorf("marshal settlement event: %w", err)
	}
	key := fmt.Sprintf("%d-%d", r.Match.BuyOrderID, r.Match.SellOrderID)

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   value,
		Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte(EventSettlement)}},
	})
	if err != nil {
		return fmt.Errorf("publish settlement %s: %w", key, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ settlement.Recorder = (*Publisher)(nil)
