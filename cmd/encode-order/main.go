package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
	"github.com/uhyunpark/darkpool-oracle/pkg/crypto"
)

type orderFlags struct {
	id    uint64
	owner string
	token string
	price string
	size  string
	sell  bool
}

func main() {
	if err := newCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var f orderFlags
	cmd := &cobra.Command{
		Use:          "encode-order",
		Short:        "Print the encoded order payload a trader submits for encryption",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return encode(cmd, f)
		},
	}
	cmd.Flags().Uint64Var(&f.id, "id", 1, "order id assigned by the contract")
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner address (default: a freshly generated key)")
	cmd.Flags().StringVar(&f.token, "token", "", "token address")
	cmd.Flags().StringVar(&f.price, "price", "", "limit price in token base units")
	cmd.Flags().StringVar(&f.size, "size", "", "order size in token base units")
	cmd.Flags().BoolVar(&f.sell, "sell", false, "sell order (default: buy)")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func encode(cmd *cobra.Command, f orderFlags) error {
	out := cmd.OutOrStdout()

	var owner common.Address
	if f.owner == "" {
		signer, err := crypto.GenerateKey()
		if err != nil {
			return err
		}
		owner = signer.Address()
		fmt.Fprintf(out, "Generated owner: %s\n", owner.Hex())
		fmt.Fprintf(out, "Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())
	} else {
		if !common.IsHexAddress(f.owner) {
			return fmt.Errorf("invalid owner address %q", f.owner)
		}
		owner = common.HexToAddress(f.owner)
	}
	if !common.IsHexAddress(f.token) {
		return fmt.Errorf("invalid token address %q", f.token)
	}

	price, err := uint256.FromDecimal(f.price)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	size, err := uint256.FromDecimal(f.size)
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}

	order := core.Order{
		ID:    f.id,
		Owner: owner,
		Token: common.HexToAddress(f.token),
		Price: price,
		Size:  size,
		Side:  core.Buy,
	}
	if f.sell {
		order.Side = core.Sell
	}
	if order.ID == 0 {
		return fmt.Errorf("order id must be positive")
	}
	if order.Size.IsZero() {
		return fmt.Errorf("size must be positive")
	}

	data, err := contract.EncodeOrder(order)
	if err != nil {
		return err
	}

	// Round-trip through the oracle's decoder so a bad payload never leaves here.
	if _, err := contract.DecodeOrderFor(order.ID, owner, data); err != nil {
		return fmt.Errorf("encoded order does not decode: %w", err)
	}

	fmt.Fprintln(out, "Order Details:")
	fmt.Fprintf(out, "  ID: %d\n", order.ID)
	fmt.Fprintf(out, "  Side: %s\n", order.Side)
	fmt.Fprintf(out, "  Token: %s\n", order.Token.Hex())
	fmt.Fprintf(out, "  Price: %s\n", order.Price.Dec())
	fmt.Fprintf(out, "  Size: %s\n", order.Size.Dec())
	fmt.Fprintf(out, "  Owner: %s\n\n", order.Owner.Hex())
	fmt.Fprintf(out, "Encoding: v%d (%d bytes)\n", contract.OrderEncodingV1, len(data))
	fmt.Fprintf(out, "0x%s\n", hex.EncodeToString(data))
	return nil
}
