package types

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"time"

	wdos "github.com/wisdomchain/wisdom/libs/os"
)

const (
	// MaxChainIDLen is a maximum length of the chain ID.
	MaxChainIDLen = 50

	// DefaultGenesisBits is an easy target used by freshly initialized
	// networks.
	DefaultGenesisBits = "00ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
)

// GenesisDoc defines the initial conditions of a chain. The genesis block
// itself is derived from it deterministically.
type GenesisDoc struct {
	GenesisTime time.Time `json:"genesis_time"`
	ChainID     string    `json:"chain_id"`
	Version     uint32    `json:"version"`
	Bits        string    `json:"bits"`
	Proposer    string    `json:"proposer"`
	Reward      uint64    `json:"reward"`
}

// SaveAs is a utility method for saving GenesisDoc as a JSON file.
func (genDoc *GenesisDoc) SaveAs(file string) error {
	genDocBytes, err := json.MarshalIndent(genDoc, "", "  ")
	if err != nil {
		return err
	}
	return wdos.WriteFileAtomic(file, genDocBytes, 0644)
}

// ValidateAndComplete checks that all necessary fields are present
// and fills in defaults for optional fields left empty
func (genDoc *GenesisDoc) ValidateAndComplete() error {
	if genDoc.ChainID == "" {
		return errors.New("genesis doc must include non-empty chain_id")
	}
	if len(genDoc.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain_id in genesis doc is too long (max: %d)", MaxChainIDLen)
	}
	if genDoc.GenesisTime.IsZero() {
		return errors.New("genesis doc must include genesis_time")
	}
	if genDoc.Version == 0 {
		genDoc.Version = 1
	}
	if genDoc.Bits == "" {
		genDoc.Bits = DefaultGenesisBits
	}
	bits, err := hex.DecodeString(genDoc.Bits)
	if err != nil || len(bits) != HashSize {
		return fmt.Errorf("genesis bits must be %d hex encoded bytes", HashSize)
	}
	if _, err := PubkeyHashFromAddress(genDoc.Proposer); err != nil {
		return fmt.Errorf("genesis proposer: %w", err)
	}
	return nil
}

// Block builds the genesis block: height zero, zero parent, a single
// coinbase paying the genesis proposer. The doc must be valid.
func (genDoc *GenesisDoc) Block() *Block {
	bits, _ := hex.DecodeString(genDoc.Bits)
	to, _ := PubkeyHashFromAddress(genDoc.Proposer)
	body := []*Transaction{NewCoinbase(to, genDoc.Reward, 0)}
	return &Block{
		Version:        genDoc.Version,
		HashPrevBlock:  make([]byte, HashSize),
		HashMerkleRoot: MerkleRoot(body),
		Height:         0,
		Time:           genDoc.GenesisTime.Unix(),
		Bits:           bits,
		Nonce:          make([]byte, HashSize),
		Body:           body,
	}
}

// GenesisDocFromJSON unmarshalls JSON data into a GenesisDoc.
func GenesisDocFromJSON(jsonBlob []byte) (*GenesisDoc, error) {
	genDoc := GenesisDoc{}
	if err := json.Unmarshal(jsonBlob, &genDoc); err != nil {
		return nil, err
	}
	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, err
	}
	return &genDoc, nil
}

// GenesisDocFromFile reads JSON data from a file and unmarshalls it into a GenesisDoc.
func GenesisDocFromFile(genDocFile string) (*GenesisDoc, error) {
	jsonBlob, err := ioutil.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := GenesisDocFromJSON(jsonBlob)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc at %s: %w", genDocFile, err)
	}
	return genDoc, nil
}
