package p2p

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"

	wdos "github.com/wisdomchain/wisdom/libs/os"
)

// NodeKey is the persistent peer key. The public half is the node's ID.
type NodeKey struct {
	PrivKey ed25519.PrivateKey
}

type nodeKeyJSON struct {
	ID      string `json:"id"`
	PrivKey string `json:"priv_key"`
}

// ID returns the node's public key.
func (nk NodeKey) ID() []byte {
	return []byte(nk.PrivKey.Public().(ed25519.PublicKey))
}

// Sign signs msg with the node key.
func (nk NodeKey) Sign(msg []byte) []byte {
	return ed25519.Sign(nk.PrivKey, msg)
}

func (nk NodeKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(nodeKeyJSON{
		ID:      hex.EncodeToString(nk.ID()),
		PrivKey: hex.EncodeToString(nk.PrivKey.Seed()),
	})
}

func (nk *NodeKey) UnmarshalJSON(bz []byte) error {
	var raw nodeKeyJSON
	if err := json.Unmarshal(bz, &raw); err != nil {
		return err
	}
	seed, err := hex.DecodeString(raw.PrivKey)
	if err != nil {
		return fmt.Errorf("invalid priv_key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("invalid priv_key length %d", len(seed))
	}
	nk.PrivKey = ed25519.NewKeyFromSeed(seed)
	if raw.ID != "" && raw.ID != hex.EncodeToString(nk.ID()) {
		return fmt.Errorf("node key id %s does not match its private key", raw.ID)
	}
	return nil
}

// SaveAs persists the NodeKey to filePath.
func (nk NodeKey) SaveAs(filePath string) error {
	bz, err := json.Marshal(nk)
	if err != nil {
		return err
	}
	return wdos.WriteFileAtomic(filePath, bz, 0600)
}

// GenNodeKey generates a new node key.
func GenNodeKey() (NodeKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return NodeKey{}, err
	}
	return NodeKey{PrivKey: priv}, nil
}

// LoadNodeKey loads NodeKey located in filePath.
func LoadNodeKey(filePath string) (NodeKey, error) {
	bz, err := ioutil.ReadFile(filePath)
	if err != nil {
		return NodeKey{}, err
	}
	var nk NodeKey
	if err := json.Unmarshal(bz, &nk); err != nil {
		return NodeKey{}, fmt.Errorf("error reading NodeKey from %v: %w", filePath, err)
	}
	return nk, nil
}

// LoadOrGenNodeKey attempts to load the NodeKey from the given filePath. If
// the file does not exist, it generates and saves a new NodeKey.
func LoadOrGenNodeKey(filePath string) (NodeKey, error) {
	if wdos.FileExists(filePath) {
		return LoadNodeKey(filePath)
	}
	nk, err := GenNodeKey()
	if err != nil {
		return NodeKey{}, err
	}
	if err := nk.SaveAs(filePath); err != nil {
		return NodeKey{}, err
	}
	return nk, nil
}
