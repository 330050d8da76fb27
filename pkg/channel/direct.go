package channel

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/crypto"
)

// Backend is the subset of *ethclient.Client used by the direct channel.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ReceiptReader reads receipts from the chain.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Direct signs transactions with a local key and talks JSON-RPC to a node.
type Direct struct {
	backend Backend
	signer  *crypto.Signer
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	chainID *big.Int
}

func NewDirect(backend Backend, signer *crypto.Signer, logger *zap.SugaredLogger) *Direct {
	return &Direct{backend: backend, signer: signer, logger: logger}
}

// DialDirect connects to rpcURL and returns a direct channel signing with signer.
func DialDirect(ctx context.Context, rpcURL string, signer *crypto.Signer, logger *zap.SugaredLogger) (*Direct, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", rpcURL, ErrUnreachable, err)
	}
	return NewDirect(client, signer, logger), nil
}

func (d *Direct) Address() common.Address { return d.signer.Address() }
func (d *Direct) Mode() Mode              { return ModeDirect }

func (d *Direct) CallView(ctx context.Context, target common.Address, data []byte) ([]byte, error) {
	from := d.signer.Address()
	out, err := d.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &target, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %w", target.Hex(), classifyRPC(err, ErrMalformed))
	}
	return out, nil
}

func (d *Direct) SubmitTransaction(ctx context.Context, target common.Address, data []byte, gasLimit uint64) (common.Hash, error) {
	from := d.signer.Address()

	chainID, err := d.chain(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	nonce, err := d.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce: %w", classifyRPC(err, ErrUnreachable))
	}
	gasPrice, err := d.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", classifyRPC(err, ErrUnreachable))
	}
	if gasLimit == 0 {
		est, err := d.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &target, Data: data})
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", classifyEstimate(err))
		}
		gasLimit = BufferedGas(est)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &target,
		Value:    new(big.Int),
		Data:     data,
	})
	signed, err := d.signer.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}
	if err := d.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", classifyRPC(err, ErrRejected))
	}

	d.logger.Debugw("tx_submitted",
		"tx_hash", signed.Hash().Hex(),
		"nonce", nonce,
		"gas", gasLimit,
		"gas_price", gasPrice.String(),
	)
	return signed.Hash(), nil
}

func (d *Direct) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return readReceipt(ctx, d.backend, hash)
}

func (d *Direct) chain(ctx context.Context) (*big.Int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.chainID != nil {
		return d.chainID, nil
	}
	id, err := d.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", classifyRPC(err, ErrUnreachable))
	}
	d.chainID = id
	return id, nil
}

// BufferedGas adds 50% headroom to a node gas estimate.
func BufferedGas(estimate uint64) uint64 {
	return estimate + estimate/2
}

func readReceipt(ctx context.Context, r ReceiptReader, hash common.Hash) (*types.Receipt, error) {
	receipt, err := r.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return nil, fmt.Errorf("%s: %w", hash.Hex(), ErrReceiptNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), classifyRPC(err, ErrUnreachable))
	}
	return receipt, nil
}

// revertErrorCode is the JSON-RPC error code nodes use for a reverting call.
const revertErrorCode = 3

// classifyEstimate is classifyRPC for eth_estimateGas, where a revert means
// the transaction would fail on chain rather than be refused by the node.
func classifyEstimate(err error) error {
	classified := classifyRPC(err, ErrRejected)
	var rpcErr rpc.Error
	if errors.Is(classified, ErrRejected) && errors.As(err, &rpcErr) && isRevert(rpcErr) {
		return fmt.Errorf("%w: %v", ErrReverted, err)
	}
	return classified
}

func isRevert(err rpc.Error) bool {
	return err.ErrorCode() == revertErrorCode ||
		strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

var authMarkers = []string{"unauthorized", "not authorized", "only oracle", "forbidden"}

// classifyRPC maps a go-ethereum client error onto a channel sentinel. Errors
// the node answered with become answered; anything else is a transport
// failure.
func classifyRPC(err error, answered error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == 401 || httpErr.StatusCode == 403 {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := strings.ToLower(rpcErr.Error())
		for _, m := range authMarkers {
			if strings.Contains(msg, m) {
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
		}
		return fmt.Errorf("%w: %v", answered, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}
