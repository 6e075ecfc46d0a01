package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// DefaultTransactionVersion is the only transaction version accepted.
const DefaultTransactionVersion uint32 = 1

// TxType enumerates the transaction kinds. The numeric values are part of
// the wire format.
type TxType uint8

const (
	TxCoinbase TxType = iota
	TxTransfer
	TxVote
	TxDeposit
	TxTransferMultisig
	TxMortgage
	TxCancelVote
	TxCancelMortgage

	txTypeCount
)

var txTypeNames = [...]string{
	"coinbase", "transfer", "vote", "deposit",
	"transfer_multisig", "mortgage", "cancel_vote", "cancel_mortgage",
}

func (t TxType) String() string {
	if t < txTypeCount {
		return txTypeNames[t]
	}
	return fmt.Sprintf("TxType(%d)", uint8(t))
}

const (
	PublicKeySize  = 32
	PubkeyHashSize = 20
	SignatureSize  = 64
)

// Transaction is a single ledger operation carried in a block body.
type Transaction struct {
	Version   uint32 `codec:"version"`
	Type      TxType `codec:"type"`
	Nonce     uint64 `codec:"nonce"`
	From      []byte `codec:"from"`
	GasPrice  uint64 `codec:"gas_price"`
	Amount    uint64 `codec:"amount"`
	Payload   []byte `codec:"payload"`
	To        []byte `codec:"to"`
	Signature []byte `codec:"signature"`
}

// Hash is the SHA3-256 digest of the transaction's canonical bytes,
// signature included. A nil transaction hashes to zeros.
func (tx *Transaction) Hash() []byte {
	if tx == nil {
		return make([]byte, HashSize)
	}
	h := sha3.New256()
	var scratch [8]byte
	binary.BigEndian.PutUint32(scratch[:4], tx.Version)
	h.Write(scratch[:4])
	h.Write([]byte{byte(tx.Type)})
	binary.BigEndian.PutUint64(scratch[:], tx.Nonce)
	h.Write(scratch[:])
	h.Write(tx.From)
	binary.BigEndian.PutUint64(scratch[:], tx.GasPrice)
	h.Write(scratch[:])
	binary.BigEndian.PutUint64(scratch[:], tx.Amount)
	h.Write(scratch[:])
	binary.BigEndian.PutUint32(scratch[:4], uint32(len(tx.Payload)))
	h.Write(scratch[:4])
	h.Write(tx.Payload)
	h.Write(tx.To)
	h.Write(tx.Signature)
	return h.Sum(nil)
}

// ValidateBasic checks that every required field is present and well sized.
// It does not look at the version or at type specific rules.
func (tx *Transaction) ValidateBasic() error {
	if tx == nil {
		return errors.New("nil transaction")
	}
	if tx.Type >= txTypeCount {
		return fmt.Errorf("unknown transaction type %d", tx.Type)
	}
	if len(tx.From) != PublicKeySize {
		return fmt.Errorf("wrong from length: expected %d, got %d", PublicKeySize, len(tx.From))
	}
	if len(tx.To) != PubkeyHashSize {
		return fmt.Errorf("wrong to length: expected %d, got %d", PubkeyHashSize, len(tx.To))
	}
	if tx.Type != TxCoinbase && len(tx.Signature) != SignatureSize {
		return fmt.Errorf("wrong signature length: expected %d, got %d", SignatureSize, len(tx.Signature))
	}
	return nil
}

// NewCoinbase builds the reward transaction that opens every block body.
func NewCoinbase(to []byte, amount uint64, height int64) *Transaction {
	return &Transaction{
		Version: DefaultTransactionVersion,
		Type:    TxCoinbase,
		Nonce:   uint64(height),
		From:    make([]byte, PublicKeySize),
		Amount:  amount,
		To:      to,
	}
}
