package types

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format is fixed
	"golang.org/x/crypto/sha3"
)

// AddressVersion prefixes every base58check address.
const AddressVersion byte = 0x00

// PubkeyHash derives the 20-byte account identifier of a public key:
// ripemd160(sha3-256(pubkey)).
func PubkeyHash(pubKey []byte) []byte {
	sum := sha3.Sum256(pubKey)
	h := ripemd160.New()
	h.Write(sum[:])
	return h.Sum(nil)
}

// AddressFromPubkeyHash renders a pubkey hash as a base58check address.
func AddressFromPubkeyHash(pubkeyHash []byte) string {
	return base58.CheckEncode(pubkeyHash, AddressVersion)
}

// PubkeyHashFromAddress decodes and checks a base58check address.
func PubkeyHashFromAddress(address string) ([]byte, error) {
	decoded, version, err := base58.CheckDecode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", address, err)
	}
	if version != AddressVersion {
		return nil, fmt.Errorf("invalid address %q: unexpected version %d", address, version)
	}
	if len(decoded) != PubkeyHashSize {
		return nil, fmt.Errorf("invalid address %q: payload has %d bytes", address, len(decoded))
	}
	return decoded, nil
}

// PubkeyHashHex is the textual proposer identity used by the election
// schedule.
func PubkeyHashHex(pubkeyHash []byte) string {
	return hex.EncodeToString(pubkeyHash)
}
