// file: pkg/crypto/ethaddr.go
package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

// AddressFromUncompressedPub expects a 65-byte uncompressed secp256k1 pubkey (0x04 || X || Y).
// The address is the last 20 bytes of keccak256(X || Y).
func AddressFromUncompressedPub(pub []byte) (common.Address, error) {
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, fmt.Errorf("expected 65-byte uncompressed public key, got %d bytes", len(pub))
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(pub[1:])
	sum := h.Sum(nil)
	return common.BytesToAddress(sum[12:]), nil
}

// AddressFromKeyHex derives the address for key material handed out by the
// key authority: a 32-byte secp256k1 private key or a 65-byte uncompressed
// public key. Private key bytes are zeroed before returning.
func AddressFromKeyHex(s string) (common.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("decode key: %w", err)
	}
	switch len(raw) {
	case 32:
		priv, err := crypto.ToECDSA(raw)
		clear(raw)
		if err != nil {
			return common.Address{}, fmt.Errorf("parse private key: %w", err)
		}
		pub := crypto.FromECDSAPub(&priv.PublicKey)
		priv.D.SetInt64(0)
		return AddressFromUncompressedPub(pub)
	case 65:
		return AddressFromUncompressedPub(raw)
	}
	return common.Address{}, fmt.Errorf("expected 32-byte private or 65-byte public key, got %d bytes", len(raw))
}
