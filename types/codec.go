package types

import (
	"github.com/hashicorp/go-msgpack/codec"
)

// MsgpackHandle is the single msgpack configuration shared by the wire
// codec, the envelope signer and the chain store. Byte slices are written
// as msgpack bin so that hashes survive a round trip unchanged.
var MsgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.WriteExt = true
	return h
}()

// Marshal msgpack-encodes v.
func Marshal(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, MsgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, MsgpackHandle).Decode(v)
}
