package channel

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/uhyunpark/darkpool-oracle/pkg/crypto"
)

var target = common.HexToAddress("0x1bc94B51C5040E7A64FE5F42F51C328d7398969e")

type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

var _ rpc.Error = rpcError{}

type fakeBackend struct {
	callOut  []byte
	callErr  error
	lastCall ethereum.CallMsg

	estimate    uint64
	estimateErr error
	sendErr     error
	sent        []*types.Transaction

	receipts   map[common.Hash]*types.Receipt
	receiptErr error
	chainCalls int
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.lastCall = call
	return f.callOut, f.callErr
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(100_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.chainCalls++
	return big.NewInt(23295), nil
}

func newDirect(t *testing.T, b *fakeBackend) (*Direct, *crypto.Signer) {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return NewDirect(b, signer, zap.NewNop().Sugar()), signer
}

func TestDirect_CallViewSetsFrom(t *testing.T) {
	b := &fakeBackend{callOut: []byte{0x01}}
	d, signer := newDirect(t, b)

	out, err := d.CallView(context.Background(), target, []byte{0xaa})
	if err != nil {
		t.Fatalf("call view: %v", err)
	}
	if len(out) != 1 || out[0] != 0x01 {
		t.Errorf("out = %x", out)
	}
	if b.lastCall.From != signer.Address() {
		t.Errorf("from = %s, want oracle %s", b.lastCall.From.Hex(), signer.Address().Hex())
	}
	if d.Mode() != ModeDirect {
		t.Errorf("mode = %s", d.Mode())
	}
}

func TestDirect_CallViewErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"revert", rpcError{3, "execution reverted"}, ErrMalformed},
		{"not oracle", rpcError{3, "execution reverted: Only oracle can call"}, ErrUnauthorized},
		{"http 401", rpc.HTTPError{StatusCode: 401, Status: "401 Unauthorized"}, ErrUnauthorized},
		{"http 502", rpc.HTTPError{StatusCode: 502, Status: "502 Bad Gateway"}, ErrUnreachable},
		{"transport", errors.New("dial tcp: connection refused"), ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDirect(t, &fakeBackend{callErr: tt.err})
			_, err := d.CallView(context.Background(), target, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDirect_SubmitSignsWithOracleKey(t *testing.T) {
	b := &fakeBackend{}
	d, signer := newDirect(t, b)

	hash, err := d.SubmitTransaction(context.Background(), target, []byte{0xde, 0xad}, 500_000)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(b.sent) != 1 {
		t.Fatalf("sent %d txs, want 1", len(b.sent))
	}
	tx := b.sent[0]
	if tx.Hash() != hash {
		t.Errorf("hash = %s, want %s", hash.Hex(), tx.Hash().Hex())
	}
	if tx.Gas() != 500_000 {
		t.Errorf("gas = %d, want explicit limit", tx.Gas())
	}
	if *tx.To() != target {
		t.Errorf("to = %s", tx.To().Hex())
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(23295)), tx)
	if err != nil || sender != signer.Address() {
		t.Errorf("sender = %s, %v", sender.Hex(), err)
	}

	if _, err := d.SubmitTransaction(context.Background(), target, nil, 1); err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if b.chainCalls != 1 {
		t.Errorf("chain id fetched %d times, want 1", b.chainCalls)
	}
	if b.sent[1].Nonce() != 1 {
		t.Errorf("second nonce = %d, want 1", b.sent[1].Nonce())
	}
}

func TestDirect_SubmitEstimatesGas(t *testing.T) {
	b := &fakeBackend{estimate: 200_000}
	d, _ := newDirect(t, b)

	if _, err := d.SubmitTransaction(context.Background(), target, nil, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := b.sent[0].Gas(); got != 300_000 {
		t.Errorf("gas = %d, want estimate plus half", got)
	}
}

func TestDirect_SubmitErrors(t *testing.T) {
	tests := []struct {
		name    string
		backend *fakeBackend
		want    error
	}{
		{"estimate reverts", &fakeBackend{estimateErr: rpcError{3, "execution reverted: order already filled"}}, ErrReverted},
		{"estimate reverts without code", &fakeBackend{estimateErr: rpcError{-32000, "execution reverted"}}, ErrReverted},
		{"estimate not oracle", &fakeBackend{estimateErr: rpcError{3, "execution reverted: Only oracle can call"}}, ErrUnauthorized},
		{"estimate out of gas", &fakeBackend{estimateErr: rpcError{-32000, "gas required exceeds allowance"}}, ErrRejected},
		{"estimate down", &fakeBackend{estimateErr: errors.New("EOF")}, ErrUnreachable},
		{"nonce too low", &fakeBackend{estimate: 1, sendErr: rpcError{-32000, "nonce too low"}}, ErrRejected},
		{"forbidden", &fakeBackend{estimate: 1, sendErr: rpc.HTTPError{StatusCode: 403}}, ErrUnauthorized},
		{"down", &fakeBackend{estimate: 1, sendErr: errors.New("EOF")}, ErrUnreachable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDirect(t, tt.backend)
			_, err := d.SubmitTransaction(context.Background(), target, nil, 0)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDirect_Receipt(t *testing.T) {
	known := common.HexToHash("0x01")
	b := &fakeBackend{receipts: map[common.Hash]*types.Receipt{
		known: {Status: types.ReceiptStatusSuccessful},
	}}
	d, _ := newDirect(t, b)

	r, err := d.Receipt(context.Background(), known)
	if err != nil || r.Status != types.ReceiptStatusSuccessful {
		t.Errorf("receipt = %v, %v", r, err)
	}
	if _, err := d.Receipt(context.Background(), common.HexToHash("0x02")); !errors.Is(err, ErrReceiptNotFound) {
		t.Errorf("pending err = %v, want ErrReceiptNotFound", err)
	}

	b.receiptErr = errors.New("connection reset")
	if _, err := d.Receipt(context.Background(), known); !errors.Is(err, ErrUnreachable) {
		t.Errorf("transport err = %v, want ErrUnreachable", err)
	}
}

func TestBufferedGas(t *testing.T) {
	for _, tt := range []struct{ in, want uint64 }{{0, 0}, {100, 150}, {21_000, 31_500}, {3, 4}} {
		if got := BufferedGas(tt.in); got != tt.want {
			t.Errorf("BufferedGas(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseModeAndClass(t *testing.T) {
	if m, err := ParseMode("delegated"); err != nil || m != ModeDelegated {
		t.Errorf("ParseMode = %s, %v", m, err)
	}
	if _, err := ParseMode("tee"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if got := Class(errors.Join(errors.New("x"), ErrUnreachable)); got != "connectivity" {
		t.Errorf("class = %s", got)
	}
	if got := Class(nil); got != "none" {
		t.Errorf("class(nil) = %s", got)
	}
}
