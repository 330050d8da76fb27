package channel

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/crypto"
)

const (
	DefaultSocket = "/run/rofl-appd.sock"

	// DefaultGasLimit is sent to the authority when the caller asks for an
	// estimate, since the authority signs without simulating.
	DefaultGasLimit uint64 = 3_000_000

	pathStateCall   = "/rofl/v1/state/call"
	pathSignSubmit  = "/rofl/v1/tx/sign-submit"
	pathGenerateKey = "/rofl/v1/keys/generate"

	keyKindSecp256k1 = "secp256k1"

	maxResponseBody = 4 << 20
)

type stateCallRequest struct {
	ContractAddress string `json:"contract_address"`
	CallData        string `json:"call_data"`
}

type stateCallResponse struct {
	Data *string `json:"data"`
}

type signSubmitRequest struct {
	ContractAddress string `json:"contract_address"`
	CallData        string `json:"call_data"`
	GasLimit        uint64 `json:"gas_limit"`
	ValueEncrypted  bool   `json:"value_encrypted"`
}

type signSubmitResponse struct {
	TxHash string `json:"tx_hash"`
}

// keys/generate is idempotent per key id: it returns the same key every time.
type generateKeyRequest struct {
	KeyID string `json:"key_id"`
	Kind  string `json:"kind"`
}

type generateKeyResponse struct {
	Key string `json:"key"`
}

// Delegated forwards calls to a co-located trust authority that holds the
// oracle key. Receipts come from the chain RPC since the authority only
// returns hashes.
type Delegated struct {
	client   *http.Client
	baseURL  string
	keyID    string
	receipts ReceiptReader
	address  common.Address
	logger   *zap.SugaredLogger
}

// UnixSocketClient returns an HTTP client whose every request is dialed to
// the unix socket at path.
func UnixSocketClient(path string, timeout time.Duration) *http.Client {
	dialer := &net.Dialer{}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return dialer.DialContext(ctx, "unix", path)
			},
		},
	}
}

// NewDelegated resolves the oracle identity from the authority's public key
// for keyID and returns a ready channel. baseURL is "http://localhost" for a
// unix socket client.
func NewDelegated(ctx context.Context, client *http.Client, baseURL, keyID string, receipts ReceiptReader, logger *zap.SugaredLogger) (*Delegated, error) {
	d := &Delegated{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		keyID:    keyID,
		receipts: receipts,
		logger:   logger,
	}

	var resp generateKeyResponse
	req := generateKeyRequest{KeyID: keyID, Kind: keyKindSecp256k1}
	if err := d.post(ctx, pathGenerateKey, req, &resp, ErrMalformed); err != nil {
		return nil, fmt.Errorf("resolve oracle identity: %w", err)
	}
	// Only the address is kept; signing stays with the authority.
	addr, err := crypto.AddressFromKeyHex(resp.Key)
	resp.Key = ""
	if err != nil {
		return nil, fmt.Errorf("resolve oracle identity: %w: %v", ErrMalformed, err)
	}
	d.address = addr

	logger.Infow("delegated_identity", "key_id", keyID, "address", addr.Hex())
	return d, nil
}

func (d *Delegated) Address() common.Address { return d.address }
func (d *Delegated) Mode() Mode              { return ModeDelegated }

func (d *Delegated) CallView(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	req := stateCallRequest{
		ContractAddress: target.Hex(),
		CallData:        hex.EncodeToString(data),
	}
	var resp stateCallResponse
	if err := d.post(ctx, pathStateCall, req, &resp, ErrMalformed); err != nil {
		return nil, fmt.Errorf("state call %s: %w", target.Hex(), err)
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("state call %s: %w: missing data", target.Hex(), ErrMalformed)
	}
	out, err := decodeHex(*resp.Data)
	if err != nil {
		return nil, fmt.Errorf("state call %s: %w: %v", target.Hex(), ErrMalformed, err)
	}
	return out, nil
}

func (d *Delegated) SubmitTransaction(ctx context.Context, target common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	req := signSubmitRequest{
		ContractAddress: target.Hex(),
		CallData:        hex.EncodeToString(data),
		GasLimit:        gasLimit,
		ValueEncrypted:  false,
	}
	var resp signSubmitResponse
	if err := d.post(ctx, pathSignSubmit, req, &resp, ErrRejected); err != nil {
		return common.Hash{}, fmt.Errorf("sign-submit %s: %w", target.Hex(), err)
	}
	raw, err := decodeHex(resp.TxHash)
	if err != nil || len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("sign-submit %s: %w: bad tx hash %q", target.Hex(), ErrMalformed, resp.TxHash)
	}
	hash := common.BytesToHash(raw)

	d.logger.Debugw("tx_submitted", "tx_hash", hash.Hex(), "gas", gasLimit, "mode", ModeDelegated)
	return hash, nil
}

func (d *Delegated) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return readReceipt(ctx, d.receipts, hash)
}

// post sends body as JSON and decodes the reply into out. Non-auth 4xx
// replies are reported as clientErr.
func (d *Delegated) post(ctx context.Context, path string, body, out interface{}, clientErr error) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", ErrUnauthorized, resp.Status, snippet(raw))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s: %s", ErrUnreachable, resp.Status, snippet(raw))
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %s: %s", clientErr, resp.Status, snippet(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
