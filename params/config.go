package params

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// ErrMissingConfig marks a required setting that is absent or unusable.
var ErrMissingConfig = errors.New("missing configuration")

const (
	ModeDirect    = "direct"
	ModeDelegated = "delegated"
)

type Chain struct {
	ContractAddress string
	RPCURL          string
}

type Channel struct {
	Mode string
	// PrivateKey is the hex secp256k1 key used in direct mode.
	PrivateKey string
	// AppdSocket and KeyID locate the delegated signing authority.
	AppdSocket string
	KeyID      string
}

type Scheduler struct {
	PollInterval time.Duration
	RunOnce      bool
}

type Retrieval struct {
	// Pause for RetrievePause after every RetrieveBatch orders.
	Batch int
	Pause time.Duration
}

type Settlement struct {
	// GasLimit of zero lets the channel estimate.
	GasLimit            uint64
	ReceiptPollAttempts int
	ReceiptPollInterval time.Duration
	CheckAllowance      bool
}

type Sinks struct {
	JournalPath  string
	KafkaBrokers []string
	KafkaTopic   string
	APIAddr      string
}

type Log struct {
	File  string
	Level string
}

type Config struct {
	Chain      Chain
	Channel    Channel
	Scheduler  Scheduler
	Retrieval  Retrieval
	Settlement Settlement
	Sinks      Sinks
	Log        Log
}

func Default() Config {
	return Config{
		Channel: Channel{
			Mode:       ModeDirect,
			AppdSocket: "/run/rofl-appd.sock",
			KeyID:      "darkpool-oracle",
		},
		Scheduler: Scheduler{
			PollInterval: 30 * time.Second,
		},
		Retrieval: Retrieval{
			Batch: 10,
			Pause: 100 * time.Millisecond,
		},
		Settlement: Settlement{
			ReceiptPollAttempts: 30,
			ReceiptPollInterval: 2 * time.Second,
		},
		Sinks: Sinks{
			KafkaTopic: "darkpool.settlements",
		},
		Log: Log{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return cfg, fmt.Errorf("load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	var errs []error
	cfg.Chain.ContractAddress = getEnv("CONTRACT_ADDRESS", getEnv("ROFLSWAP_ADDRESS", ""))
	cfg.Chain.RPCURL = getEnv("RPC_URL", getEnv("WEB3_PROVIDER", ""))

	cfg.Channel.Mode = strings.ToLower(getEnv("CHANNEL_MODE", cfg.Channel.Mode))
	cfg.Channel.PrivateKey = getEnv("ORACLE_PRIVATE_KEY", "")
	cfg.Channel.AppdSocket = getEnv("APPD_SOCKET", cfg.Channel.AppdSocket)
	cfg.Channel.KeyID = getEnv("ORACLE_KEY_ID", cfg.Channel.KeyID)

	if sec := getEnv("POLL_INTERVAL_SEC", os.Getenv("POLLING_INTERVAL")); sec != "" {
		n, err := strconv.Atoi(sec)
		errs = append(errs, fieldErr("POLL_INTERVAL_SEC", err))
		cfg.Scheduler.PollInterval = time.Duration(n) * time.Second
	}
	if v := os.Getenv("RUN_ONCE"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, fieldErr("RUN_ONCE", err))
		cfg.Scheduler.RunOnce = b
	}

	if v := os.Getenv("RETRIEVE_BATCH"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, fieldErr("RETRIEVE_BATCH", err))
		cfg.Retrieval.Batch = n
	}
	if v := os.Getenv("RETRIEVE_PAUSE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		errs = append(errs, fieldErr("RETRIEVE_PAUSE_MS", err))
		cfg.Retrieval.Pause = time.Duration(ms) * time.Millisecond
	}

	if v := os.Getenv("GAS_LIMIT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		errs = append(errs, fieldErr("GAS_LIMIT", err))
		cfg.Settlement.GasLimit = n
	}
	if v := os.Getenv("RECEIPT_POLL_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		errs = append(errs, fieldErr("RECEIPT_POLL_ATTEMPTS", err))
		cfg.Settlement.ReceiptPollAttempts = n
	}
	if v := os.Getenv("RECEIPT_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		errs = append(errs, fieldErr("RECEIPT_POLL_INTERVAL_MS", err))
		cfg.Settlement.ReceiptPollInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("CHECK_ALLOWANCE"); v != "" {
		b, err := strconv.ParseBool(v)
		errs = append(errs, fieldErr("CHECK_ALLOWANCE", err))
		cfg.Settlement.CheckAllowance = b
	}

	cfg.Sinks.JournalPath = getEnv("JOURNAL_PATH", "")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Sinks.KafkaBrokers = splitList(brokers)
	}
	cfg.Sinks.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Sinks.KafkaTopic)
	cfg.Sinks.APIAddr = getEnv("API_ADDR", "")

	cfg.Log.File = getEnv("LOG_FILE", "")
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	return cfg, errors.Join(errs...)
}

// Validate reports every required setting that is missing or inconsistent.
func (c Config) Validate() error {
	var errs []error
	missing := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrMissingConfig}, args...)...))
	}

	switch {
	case c.Chain.ContractAddress == "":
		missing("CONTRACT_ADDRESS is required")
	case !common.IsHexAddress(c.Chain.ContractAddress):
		missing("CONTRACT_ADDRESS %q is not an address", c.Chain.ContractAddress)
	}
	if c.Chain.RPCURL == "" {
		missing("RPC_URL is required")
	}

	switch c.Channel.Mode {
	case ModeDirect:
		if c.Channel.PrivateKey == "" {
			missing("ORACLE_PRIVATE_KEY is required in direct mode")
		}
	case ModeDelegated:
		if c.Channel.AppdSocket == "" || c.Channel.KeyID == "" {
			missing("APPD_SOCKET and ORACLE_KEY_ID are required in delegated mode")
		}
	default:
		missing("CHANNEL_MODE %q must be %q or %q", c.Channel.Mode, ModeDirect, ModeDelegated)
	}

	if c.Scheduler.PollInterval <= 0 {
		missing("POLL_INTERVAL_SEC must be positive")
	}
	if c.Settlement.ReceiptPollAttempts < 1 {
		missing("RECEIPT_POLL_ATTEMPTS must be at least 1")
	}
	if c.Retrieval.Batch < 0 || c.Retrieval.Pause < 0 {
		missing("RETRIEVE_BATCH and RETRIEVE_PAUSE_MS must not be negative")
	}
	if len(c.Sinks.KafkaBrokers) > 0 && c.Sinks.KafkaTopic == "" {
		missing("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return errors.Join(errs...)
}

func (c Config) Contract() common.Address {
	return common.HexToAddress(c.Chain.ContractAddress)
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func fieldErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", key, err)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
