package p2p

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wisdomchain/wisdom/types"
)

func TestEnvelopeSignVerify(t *testing.T) {
	key := genTestKey(t)
	self, err := NewPeer(key.ID(), "127.0.0.1", 9000)
	require.NoError(t, err)

	env := signedEnvelope(t, key, self, 3, &Peers{Peers: []string{self.String()}})
	require.NoError(t, env.Verify(self))

	tampered := *env
	tampered.TTL++
	require.Error(t, tampered.Verify(self))

	other, err := NewPeer(genTestKey(t).ID(), "127.0.0.1", 9000)
	require.NoError(t, err)
	require.Error(t, env.Verify(other))
}

func TestEnvelopeCodec(t *testing.T) {
	key := genTestKey(t)
	self, err := NewPeer(key.ID(), "127.0.0.1", 9000)
	require.NoError(t, err)

	genesis := types.MakeTestGenesis(make([]byte, types.PubkeyHashSize), time.Unix(1_600_000_000, 0)).Block()
	msg := &Blocks{Blocks: types.MakeTestChain(genesis, 2, make([]byte, types.PubkeyHashSize), 10)}
	env := signedEnvelope(t, key, self, 2, msg)

	codec := msgpackCodec{}
	bz, err := codec.Marshal(env)
	require.NoError(t, err)
	decoded := new(Envelope)
	require.NoError(t, codec.Unmarshal(bz, decoded))
	if diff := cmp.Diff(env, decoded); diff != "" {
		t.Fatalf("envelope changed in transit (-want +got):\n%s", diff)
	}
	require.NoError(t, decoded.Verify(self))

	payload, err := ParsePayload(decoded)
	require.NoError(t, err)
	blocks, ok := payload.Message.(*Blocks)
	require.True(t, ok)
	require.Len(t, blocks.Blocks, 2)
	for i, b := range blocks.Blocks {
		require.Equal(t, msg.Blocks[i].Hash(), b.Hash())
	}
}

func TestNodeKeyPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node_key.json")

	nk, err := LoadOrGenNodeKey(path)
	require.NoError(t, err)

	again, err := LoadOrGenNodeKey(path)
	require.NoError(t, err)
	require.Equal(t, nk.ID(), again.ID())
	require.Equal(t, []byte(nk.PrivKey), []byte(again.PrivKey))

	require.Len(t, nk.Sign([]byte("hello")), 64)
}
