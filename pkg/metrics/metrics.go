package metrics

import (
	"errors"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprom "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"

	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/scheduler"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
)

const MetricsSubsystem = "oracle"

// Metrics contains metrics exposed by the matching loop.
type Metrics struct {
	// Number of finished cycles, labelled by status (ok, failed).
	Cycles metrics.Counter
	// Wall-clock duration of a cycle.
	CycleDuration metrics.Histogram
	// Orders admitted to the book in the last cycle.
	OrdersActive metrics.Gauge
	// Matches produced by the matcher.
	MatchesFound metrics.Counter
	// Settlement outcomes, labelled by outcome.
	Settlements metrics.Counter
	// Unix time of the last finished cycle.
	LastCycle metrics.Gauge
}

// PrometheusMetrics builds Metrics registered on reg.
func PrometheusMetrics(namespace string, reg stdprometheus.Registerer) *Metrics {
	cycles := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "cycles_total",
		Help:      "Number of matching cycles run.",
	}, []string{"status"})
	duration := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a matching cycle.",
		Buckets:   stdprometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{})
	active := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "orders_active",
		Help:      "Open orders in the book during the last cycle.",
	}, []string{})
	found := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "matches_found_total",
		Help:      "Number of matches produced.",
	}, []string{})
	settlements := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "settlements_total",
		Help:      "Settlement attempts by outcome.",
	}, []string{"outcome"})
	last := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time at which the last cycle finished.",
	}, []string{})

	reg.MustRegister(cycles, duration, active, found, settlements, last)

	return &Metrics{
		Cycles:        kitprom.NewCounter(cycles),
		CycleDuration: kitprom.NewHistogram(duration),
		OrdersActive:  kitprom.NewGauge(active),
		MatchesFound:  kitprom.NewCounter(found),
		Settlements:   kitprom.NewCounter(settlements),
		LastCycle:     kitprom.NewGauge(last),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Cycles:        discard.NewCounter(),
		CycleDuration: discard.NewHistogram(),
		OrdersActive:  discard.NewGauge(),
		MatchesFound:  discard.NewCounter(),
		Settlements:   discard.NewCounter(),
		LastCycle:     discard.NewGauge(),
	}
}

// ObserveCycle is a scheduler.OnCycle observer.
func (m *Metrics) ObserveCycle(s scheduler.Summary) {
	status := "ok"
	if s.Err != nil {
		status = "failed"
	}
	m.Cycles.With("status", status).Add(1)
	m.CycleDuration.Observe(s.Duration.Seconds())
	m.OrdersActive.Set(float64(s.OrdersActive))
	m.MatchesFound.Add(float64(s.MatchesFound))
	for _, r := range s.Results {
		m.Settlements.With("outcome", Outcome(r)).Add(1)
	}
	m.LastCycle.Set(float64(s.StartedAt.Add(s.Duration).Unix()))
}

// Outcome buckets a settlement result for labelling.
func Outcome(r settlement.Result) string {
	switch {
	case r.Success:
		return "settled"
	case errors.Is(r.Err, settlement.ErrReverted):
		return "reverted"
	case errors.Is(r.Err, settlement.ErrConfirmationTimeout):
		return "timeout"
	case errors.Is(r.Err, settlement.ErrInsufficientAllowance):
		return "allowance"
	case errors.Is(r.Err, channel.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(r.Err, channel.ErrUnreachable):
		return "unreachable"
	case errors.Is(r.Err, channel.ErrRejected):
		return "rejected"
	}
	return "other"
}
