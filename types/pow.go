package types

import (
	"github.com/decred/dcrd/math/uint256"
)

// HashToUint256 interprets a 32 byte digest as a big-endian unsigned
// integer. Shorter input is left padded with zeros.
func HashToUint256(hash []byte) uint256.Uint256 {
	var buf [HashSize]byte
	if len(hash) > HashSize {
		hash = hash[len(hash)-HashSize:]
	}
	copy(buf[HashSize-len(hash):], hash)
	return *new(uint256.Uint256).SetBytes(&buf)
}

// MeetsTarget reports whether the block's proof-of-work digest is strictly
// below its declared target.
func (b *Block) MeetsTarget() bool {
	pow := HashToUint256(b.PowHash())
	target := HashToUint256(b.Bits)
	return pow.Lt(&target)
}
