package p2p

import (
	"fmt"

	"github.com/wisdomchain/wisdom/types"
)

// Code identifies the payload type of an envelope.
type Code uint8

const (
	CodeNothing Code = iota
	CodePing
	CodePong
	CodeLookup
	CodePeers
	CodeGetStatus
	CodeStatus
	CodeGetBlocks
	CodeBlocks
	CodeProposal
	CodeTransactions

	codeCount
)

var codeNames = [...]string{
	"NOTHING", "PING", "PONG", "LOOKUP", "PEERS", "GET_STATUS", "STATUS",
	"GET_BLOCKS", "BLOCKS", "PROPOSAL", "TRANSACTIONS",
}

func (c Code) String() string {
	if c < codeCount {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Message is a decoded envelope body.
type Message interface {
	Code() Code
}

type (
	// Nothing is the neutral acknowledgment.
	Nothing struct{}

	// Ping probes liveness; it is answered with Pong.
	Ping struct{}

	Pong struct{}

	// Lookup asks for the peers the remote knows about.
	Lookup struct{}

	// Peers lists peer URIs.
	Peers struct {
		Peers []string `codec:"peers"`
	}

	GetStatus struct{}

	// Status describes the sender's chain tip.
	Status struct {
		BestHeight  int64  `codec:"best_height"`
		BestHash    []byte `codec:"best_hash"`
		GenesisHash []byte `codec:"genesis_hash"`
	}

	// GetBlocks requests canonical blocks in [Start, Stop]. When more than
	// the remote's transfer limit are requested, ClipFromStop keeps the
	// highest ones instead of the lowest.
	GetBlocks struct {
		Start        int64 `codec:"start"`
		Stop         int64 `codec:"stop"`
		ClipFromStop bool  `codec:"clip_from_stop"`
	}

	Blocks struct {
		Blocks []*types.Block `codec:"blocks"`
	}

	// Proposal announces a freshly mined block.
	Proposal struct {
		Block *types.Block `codec:"block"`
	}

	Transactions struct {
		Transactions []*types.Transaction `codec:"transactions"`
	}
)

func (Nothing) Code() Code      { return CodeNothing }
func (Ping) Code() Code         { return CodePing }
func (Pong) Code() Code         { return CodePong }
func (Lookup) Code() Code       { return CodeLookup }
func (Peers) Code() Code        { return CodePeers }
func (GetStatus) Code() Code    { return CodeGetStatus }
func (Status) Code() Code       { return CodeStatus }
func (GetBlocks) Code() Code    { return CodeGetBlocks }
func (Blocks) Code() Code       { return CodeBlocks }
func (Proposal) Code() Code     { return CodeProposal }
func (Transactions) Code() Code { return CodeTransactions }

// decodeMessage decodes body according to code.
func decodeMessage(code Code, body []byte) (Message, error) {
	var msg Message
	switch code {
	case CodeNothing:
		return Nothing{}, nil
	case CodePing:
		return Ping{}, nil
	case CodePong:
		return Pong{}, nil
	case CodeLookup:
		return Lookup{}, nil
	case CodeGetStatus:
		return GetStatus{}, nil
	case CodePeers:
		msg = &Peers{}
	case CodeStatus:
		msg = &Status{}
	case CodeGetBlocks:
		msg = &GetBlocks{}
	case CodeBlocks:
		msg = &Blocks{}
	case CodeProposal:
		msg = &Proposal{}
	case CodeTransactions:
		msg = &Transactions{}
	default:
		return nil, fmt.Errorf("unknown message code %d", code)
	}
	if err := types.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("decoding %v: %w", code, err)
	}
	return msg, nil
}
