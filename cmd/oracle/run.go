package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/params"
	"github.com/uhyunpark/darkpool-oracle/pkg/api"
	"github.com/uhyunpark/darkpool-oracle/pkg/channel"
	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/crypto"
	"github.com/uhyunpark/darkpool-oracle/pkg/events"
	"github.com/uhyunpark/darkpool-oracle/pkg/metrics"
	"github.com/uhyunpark/darkpool-oracle/pkg/retrieval"
	"github.com/uhyunpark/darkpool-oracle/pkg/scheduler"
	"github.com/uhyunpark/darkpool-oracle/pkg/settlement"
	"github.com/uhyunpark/darkpool-oracle/pkg/storage"
	"github.com/uhyunpark/darkpool-oracle/pkg/util"
)

const (
	metricsNamespace = "darkpool"
	socketTimeout    = 30 * time.Second
)

func loadConfig(envFile string) (params.Config, *zap.SugaredLogger, error) {
	cfg, err := params.LoadFromEnv(envFile)
	if err != nil {
		return cfg, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	logger, err := util.BuildLogger(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		return cfg, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger.Sugar(), nil
}

// openChannel builds the transaction channel selected by cfg.
func openChannel(ctx context.Context, cfg params.Config, logger *zap.SugaredLogger) (channel.Channel, error) {
	mode, err := channel.ParseMode(cfg.Channel.Mode)
	if err != nil {
		return nil, err
	}

	switch mode {
	case channel.ModeDelegated:
		receipts, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", channel.ErrUnreachable, cfg.Chain.RPCURL, err)
		}
		client := channel.UnixSocketClient(cfg.Channel.AppdSocket, socketTimeout)
		return channel.NewDelegated(ctx, client, "http://localhost", cfg.Channel.KeyID, receipts, logger)
	default:
		signer, err := crypto.FromPrivateKeyHex(cfg.Channel.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", params.ErrMissingConfig, err)
		}
		return channel.DialDirect(ctx, cfg.Chain.RPCURL, signer, logger)
	}
}

func run(parent context.Context, envFile string, once bool) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, err := openChannel(ctx, cfg, logger)
	if err != nil {
		logger.Errorw("channel_init_failed", "mode", cfg.Channel.Mode, "err", err)
		return err
	}
	c, err := contract.New(cfg.Contract())
	if err != nil {
		return err
	}

	var recorders []settlement.Recorder
	var history api.History
	var journal *storage.Journal
	if cfg.Sinks.JournalPath != "" {
		journal, err = storage.OpenJournal(cfg.Sinks.JournalPath)
		if err != nil {
			return err
		}
		defer journal.Close()
		recorders = append(recorders, journal)
		history = journal
	}
	if len(cfg.Sinks.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.Sinks.KafkaBrokers, cfg.Sinks.KafkaTopic)
		defer pub.Close()
		recorders = append(recorders, pub)
	}

	clock := util.RealClock{}
	exec, err := settlement.NewExecutor(ch, c, clock, settlement.Config{
		PollAttempts:   cfg.Settlement.ReceiptPollAttempts,
		PollInterval:   cfg.Settlement.ReceiptPollInterval,
		GasLimit:       cfg.Settlement.GasLimit,
		CheckAllowance: cfg.Settlement.CheckAllowance,
	}, logger, recorders...)
	if err != nil {
		return err
	}

	if err := exec.EnsureOracle(ctx); err != nil {
		logger.Errorw("oracle_authorization_failed", "address", ch.Address().Hex(), "err", err)
		return err
	}

	retriever := retrieval.New(ch, c, clock, retrieval.Config{
		Batch: cfg.Retrieval.Batch,
		Pause: cfg.Retrieval.Pause,
	}, logger)
	sched := scheduler.New(retriever, exec, clock, cfg.Scheduler.PollInterval, logger)

	m, registry := metricsProvider(cfg.Sinks.APIAddr)
	sched.OnCycle(m.ObserveCycle)
	if journal != nil {
		sched.OnCycle(func(s scheduler.Summary) {
			if err := journal.SaveCycle(storage.CycleRecordFrom(s)); err != nil {
				logger.Warnw("journal_cycle_failed", "cycle", s.Cycle, "err", err)
			}
		})
	}
	if cfg.Sinks.APIAddr != "" {
		srv := api.NewServer(api.Identity{
			Address:  ch.Address().Hex(),
			Mode:     string(ch.Mode()),
			Contract: c.Address.Hex(),
		}, history, registry, logger)
		sched.OnCycle(srv.ObserveCycle)
		go func() {
			if err := srv.Start(ctx, cfg.Sinks.APIAddr); err != nil {
				logger.Errorw("api_server_failed", "addr", cfg.Sinks.APIAddr, "err", err)
			}
		}()
	}

	logger.Infow("oracle_starting",
		"address", ch.Address().Hex(),
		"mode", ch.Mode(),
		"contract", c.Address.Hex(),
		"interval", cfg.Scheduler.PollInterval,
		"run_once", once || cfg.Scheduler.RunOnce,
		"recorders", len(recorders))

	if once || cfg.Scheduler.RunOnce {
		// A failed cycle is reported in the log; the process still exits cleanly.
		sched.RunOnce(ctx)
		return nil
	}
	return sched.Run(ctx)
}

// metricsProvider returns Prometheus-backed metrics and their registry when
// the status server will expose them at /metrics, and no-op metrics with a
// nil registry otherwise.
func metricsProvider(apiAddr string) (*metrics.Metrics, *prometheus.Registry) {
	if apiAddr == "" {
		return metrics.NopMetrics(), nil
	}
	registry := prometheus.NewRegistry()
	return metrics.PrometheusMetrics(metricsNamespace, registry), registry
}

// check verifies the channel and contract without submitting anything and
// reports whether the oracle identity is the registered one.
func check(parent context.Context, envFile string) error {
	cfg, logger, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	ch, err := openChannel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	c, err := contract.New(cfg.Contract())
	if err != nil {
		return err
	}
	exec, err := settlement.NewExecutor(ch, c, util.RealClock{}, settlement.DefaultConfig(), logger)
	if err != nil {
		return err
	}

	count, err := retrieval.New(ch, c, util.RealClock{}, retrieval.Config{}, logger).Count(ctx)
	if err != nil {
		return err
	}
	registered, err := exec.RegisteredOracle(ctx)
	if err != nil {
		return err
	}
	logger.Infow("check_complete",
		"address", ch.Address().Hex(),
		"mode", ch.Mode(),
		"contract", c.Address.Hex(),
		"registered_oracle", registered.Hex(),
		"orders", count)
	if registered != ch.Address() {
		return fmt.Errorf("%w: contract reports %s, oracle is %s",
			settlement.ErrOracleMismatch, registered.Hex(), ch.Address().Hex())
	}
	return nil
}
