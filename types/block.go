package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const (
	HashSize = 32

	// MaxBlockSize is the largest encoded block the node accepts.
	MaxBlockSize = 4 << 20

	headerSize = 4 + HashSize + HashSize + 8 + 8 + HashSize + HashSize
)

// Block is a proof-of-work block. The header fields are hashed; the body is
// committed to through HashMerkleRoot.
type Block struct {
	Version        uint32         `codec:"version"`
	HashPrevBlock  []byte         `codec:"hash_prev_block"`
	HashMerkleRoot []byte         `codec:"hash_merkle_root"`
	Height         int64          `codec:"height"`
	Time           int64          `codec:"time"`
	Bits           []byte         `codec:"bits"`
	Nonce          []byte         `codec:"nonce"`
	Body           []*Transaction `codec:"body"`
}

// Header returns the fixed-width header bytes the block hash is computed
// over.
func (b *Block) Header() []byte {
	buf := make([]byte, 0, headerSize)
	var scratch [8]byte

	binary.BigEndian.PutUint32(scratch[:4], b.Version)
	buf = append(buf, scratch[:4]...)
	buf = appendFixed(buf, b.HashPrevBlock)
	buf = appendFixed(buf, b.HashMerkleRoot)
	binary.BigEndian.PutUint64(scratch[:], uint64(b.Height))
	buf = append(buf, scratch[:]...)
	binary.BigEndian.PutUint64(scratch[:], uint64(b.Time))
	buf = append(buf, scratch[:]...)
	buf = appendFixed(buf, b.Bits)
	buf = appendFixed(buf, b.Nonce)
	return buf
}

// appendFixed appends exactly HashSize bytes, zero padding or truncating
// malformed fields.
func appendFixed(buf, field []byte) []byte {
	var fixed [HashSize]byte
	copy(fixed[:], field)
	return append(buf, fixed[:]...)
}

// Hash returns the block identifier.
func (b *Block) Hash() []byte {
	sum := sha3.Sum256(b.Header())
	return sum[:]
}

// PowHash returns the proof-of-work digest, which must be numerically
// below Bits.
func (b *Block) PowHash() []byte {
	sum := sha3.Sum256(b.Hash())
	return sum[:]
}

// Size is the length of the block's wire encoding.
func (b *Block) Size() int {
	bz, err := Marshal(b)
	if err != nil {
		return 0
	}
	return len(bz)
}

// Beneficiary is the pubkey hash paid by the coinbase, which identifies the
// block's proposer. Nil for an empty body.
func (b *Block) Beneficiary() []byte {
	if len(b.Body) == 0 || b.Body[0] == nil {
		return nil
	}
	return b.Body[0].To
}

// ValidateBasic checks required header fields. The body is not inspected.
func (b *Block) ValidateBasic() error {
	if b.Height < 0 {
		return errors.New("negative height")
	}
	if b.Time <= 0 {
		return fmt.Errorf("invalid time %d", b.Time)
	}
	if err := checkHashField("hash_prev_block", b.HashPrevBlock); err != nil {
		return err
	}
	if err := checkHashField("hash_merkle_root", b.HashMerkleRoot); err != nil {
		return err
	}
	if err := checkHashField("bits", b.Bits); err != nil {
		return err
	}
	if err := checkHashField("nonce", b.Nonce); err != nil {
		return err
	}
	return nil
}

func checkHashField(name string, field []byte) error {
	if len(field) != HashSize {
		return fmt.Errorf("wrong %s length: expected %d, got %d", name, HashSize, len(field))
	}
	return nil
}

// IsChildOf reports whether b extends parent.
func (b *Block) IsChildOf(parent *Block) bool {
	return b.Height == parent.Height+1 && bytes.Equal(b.HashPrevBlock, parent.Hash())
}

func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{#%d %X}", b.Height, b.Hash()[:6])
}

// MerkleRoot hashes the transaction hashes pairwise up to a single root.
// An odd node is paired with itself.
func MerkleRoot(txs []*Transaction) []byte {
	if len(txs) == 0 {
		return make([]byte, HashSize)
	}
	level := make([][]byte, len(txs))
	for i, tx := range txs {
		level[i] = tx.Hash()
	}
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			h := sha3.New256()
			h.Write(level[i])
			h.Write(right)
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
