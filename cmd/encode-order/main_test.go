package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/darkpool-oracle/pkg/contract"
	"github.com/uhyunpark/darkpool-oracle/pkg/core"
)

const (
	ownerHex = "0x00000000000000000000000000000000000A11cE"
	tokenHex = "0x991a85943D05Abcc4599Fc8746188CCcE4019F04"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeOrder_Output(t *testing.T) {
	out, err := execute(t, "--id", "9", "--owner", ownerHex, "--token", tokenHex,
		"--price", "1500000", "--size", "250", "--sell")
	if err != nil {
		t.Fatalf("execute: %v\n%s", err, out)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	payload := strings.TrimPrefix(lines[len(lines)-1], "0x")
	data, err := hex.DecodeString(payload)
	if err != nil {
		t.Fatalf("payload %q is not hex: %v", payload, err)
	}
	o, err := contract.DecodeOrderFor(9, common.HexToAddress(ownerHex), data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.Side != core.Sell || o.Price.Uint64() != 1_500_000 || o.Size.Uint64() != 250 {
		t.Errorf("order = %+v", o)
	}
}

func TestEncodeOrder_GeneratesOwner(t *testing.T) {
	out, err := execute(t, "--token", tokenHex, "--price", "1", "--size", "1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "Generated owner: 0x") {
		t.Errorf("output missing generated owner:\n%s", out)
	}
}

func TestEncodeOrder_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing token", []string{"--price", "1", "--size", "1"}},
		{"bad token", []string{"--token", "0x12", "--price", "1", "--size", "1"}},
		{"bad price", []string{"--token", tokenHex, "--price", "-1", "--size", "1"}},
		{"zero size", []string{"--token", tokenHex, "--price", "1", "--size", "0"}},
		{"zero id", []string{"--id", "0", "--token", tokenHex, "--price", "1", "--size", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected error")
			}
		})
	}
}
