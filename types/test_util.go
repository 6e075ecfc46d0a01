package types

import (
	"encoding/binary"
	"encoding/hex"
	"time"
)

// EasyBits is a target that roughly every other nonce satisfies.
var EasyBits, _ = hex.DecodeString("7fffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff")

// MakeTestGenesis returns a valid genesis doc paying proposer.
func MakeTestGenesis(proposer []byte, genesisTime time.Time) *GenesisDoc {
	return &GenesisDoc{
		GenesisTime: genesisTime,
		ChainID:     "test-chain",
		Version:     1,
		Bits:        hex.EncodeToString(EasyBits),
		Proposer:    AddressFromPubkeyHash(proposer),
	}
}

// MakeTestBlock builds a mined child of parent whose coinbase pays
// beneficiary.
func MakeTestBlock(parent *Block, beneficiary []byte, blockTime int64) *Block {
	body := []*Transaction{NewCoinbase(beneficiary, 20, parent.Height+1)}
	b := &Block{
		Version:        parent.Version,
		HashPrevBlock:  parent.Hash(),
		HashMerkleRoot: MerkleRoot(body),
		Height:         parent.Height + 1,
		Time:           blockTime,
		Bits:           parent.Bits,
		Nonce:          make([]byte, HashSize),
		Body:           body,
	}
	Mine(b)
	return b
}

// MakeTestChain extends parent by n blocks, each interval seconds apart.
func MakeTestChain(parent *Block, n int, beneficiary []byte, interval int64) []*Block {
	chain := make([]*Block, 0, n)
	for i := 0; i < n; i++ {
		b := MakeTestBlock(parent, beneficiary, parent.Time+interval)
		chain = append(chain, b)
		parent = b
	}
	return chain
}

// Mine searches nonces until the block meets its own target.
func Mine(b *Block) {
	if len(b.Nonce) != HashSize {
		b.Nonce = make([]byte, HashSize)
	}
	for n := uint64(0); !b.MeetsTarget(); n++ {
		binary.BigEndian.PutUint64(b.Nonce[HashSize-8:], n)
	}
}
