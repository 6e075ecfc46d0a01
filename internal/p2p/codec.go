package p2p

import (
	"google.golang.org/grpc/encoding"

	"github.com/wisdomchain/wisdom/types"
)

// codecName is the gRPC content-subtype envelopes travel under.
const codecName = "msgpack"

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return types.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return types.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}
