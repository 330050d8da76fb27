package contract

import (
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

var (
	//go:embed oracle.abi.json
	oracleABIJSON string

	//go:embed erc20.abi.json
	erc20ABIJSON string
)

// ErrDecode marks return data or order bytes that do not have the expected shape.
var ErrDecode = errors.New("decode error")

// Contract method names consumed by the oracle.
const (
	MethodTotalOrderCount = "getTotalOrderCount"
	MethodOrderExists     = "orderExists"
	MethodFilledOrders    = "filledOrders"
	MethodOrderOwner      = "getOrderOwner"
	MethodEncryptedOrder  = "getEncryptedOrder"
	MethodExecuteMatch    = "executeMatch"
	MethodOracle          = "oracle"
	MethodSetOracle       = "setOracle"
	MethodAllowance       = "allowance"
)

// oracleAuthToken is sent with restricted reads. The contract authorizes the
// oracle by caller address, so the token is empty.
var oracleAuthToken = []byte{}

// Contract packs call data for the order-matching contract and decodes its
// return values.
type Contract struct {
	Address common.Address
	abi     abi.ABI
}

func New(address common.Address) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse oracle abi: %w", err)
	}
	return &Contract{Address: address, abi: parsed}, nil
}

// ABI exposes the parsed contract interface for tooling and fakes.
func (c *Contract) ABI() abi.ABI { return c.abi }

func (c *Contract) PackTotalOrderCount() ([]byte, error) {
	return c.abi.Pack(MethodTotalOrderCount)
}

func (c *Contract) PackOrderExists(id uint64) ([]byte, error) {
	return c.abi.Pack(MethodOrderExists, new(big.Int).SetUint64(id))
}

func (c *Contract) PackFilledOrders(id uint64) ([]byte, error) {
	return c.abi.Pack(MethodFilledOrders, new(big.Int).SetUint64(id))
}

func (c *Contract) PackOrderOwner(id uint64) ([]byte, error) {
	return c.abi.Pack(MethodOrderOwner, oracleAuthToken, new(big.Int).SetUint64(id))
}

func (c *Contract) PackEncryptedOrder(id uint64) ([]byte, error) {
	return c.abi.Pack(MethodEncryptedOrder, oracleAuthToken, new(big.Int).SetUint64(id))
}

func (c *Contract) PackExecuteMatch(m core.Match) ([]byte, error) {
	if m.Quantity == nil || m.ExecutionPrice == nil {
		return nil, fmt.Errorf("match %d/%d: missing quantity or price", m.BuyOrderID, m.SellOrderID)
	}
	return c.abi.Pack(MethodExecuteMatch,
		new(big.Int).SetUint64(m.BuyOrderID),
		new(big.Int).SetUint64(m.SellOrderID),
		m.Buyer,
		m.Seller,
		m.Token,
		m.Quantity.ToBig(),
		m.ExecutionPrice.ToBig(),
	)
}

func (c *Contract) PackOracle() ([]byte, error) {
	return c.abi.Pack(MethodOracle)
}

func (c *Contract) PackSetOracle(oracle common.Address) ([]byte, error) {
	return c.abi.Pack(MethodSetOracle, oracle)
}

// UnpackCount decodes getTotalOrderCount. Counts beyond uint64 are rejected.
func (c *Contract) UnpackCount(data []byte) (uint64, error) {
	v, err := unpackOne[*big.Int](c.abi, MethodTotalOrderCount, data)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, fmt.Errorf("%w: %s: count %s out of range", ErrDecode, MethodTotalOrderCount, v)
	}
	return v.Uint64(), nil
}

func (c *Contract) UnpackBool(method string, data []byte) (bool, error) {
	return unpackOne[bool](c.abi, method, data)
}

func (c *Contract) UnpackAddress(method string, data []byte) (common.Address, error) {
	return unpackOne[common.Address](c.abi, method, data)
}

func (c *Contract) UnpackBytes(method string, data []byte) ([]byte, error) {
	return unpackOne[[]byte](c.abi, method, data)
}

// Token packs ERC-20 reads used for settlement pre-checks.
type Token struct {
	abi abi.ABI
}

func NewToken() (*Token, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &Token{abi: parsed}, nil
}

func (t *Token) ABI() abi.ABI { return t.abi }

func (t *Token) PackAllowance(owner, spender common.Address) ([]byte, error) {
	return t.abi.Pack(MethodAllowance, owner, spender)
}

func (t *Token) UnpackAllowance(data []byte) (*uint256.Int, error) {
	v, err := unpackOne[*big.Int](t.abi, MethodAllowance, data)
	if err != nil {
		return nil, err
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("%w: allowance overflows uint256", ErrDecode)
	}
	return out, nil
}

func unpackOne[T any](a abi.ABI, method string, data []byte) (T, error) {
	var zero T
	if len(data) == 0 {
		return zero, fmt.Errorf("%w: %s: empty return data", ErrDecode, method)
	}
	vals, err := a.Unpack(method, data)
	if err != nil {
		return zero, fmt.Errorf("%w: %s: %v", ErrDecode, method, err)
	}
	if len(vals) != 1 {
		return zero, fmt.Errorf("%w: %s: expected 1 value, got %d", ErrDecode, method, len(vals))
	}
	v, ok := vals[0].(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s: unexpected type %T", ErrDecode, method, vals[0])
	}
	return v, nil
}
