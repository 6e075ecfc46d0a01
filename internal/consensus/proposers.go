package consensus

import (
	"errors"
	"math"

	"github.com/wisdomchain/wisdom/config"
	"github.com/wisdomchain/wisdom/types"
)

// powWaitFactor is the number of block intervals a proposer slot lasts.
const powWaitFactor = 3

// Proposer is the identity allowed to propose during [Start, End).
type Proposer struct {
	// hex encoded pubkey hash
	PubkeyHash string
	Start      int64
	End        int64
}

// EraStateSource returns the proposer snapshot in force for the era that
// parent's child belongs to.
type EraStateSource interface {
	Proposers(parent *types.Block) []string
}

// Factory elects the proposer for a time slot on top of a parent block.
type Factory struct {
	cfg     *config.ConsensusConfig
	initial []string
	eras    EraStateSource
}

// NewFactory returns a Factory. initial is the static proposer list loaded
// from the validators file and must not be empty. eras may be nil when
// multi-proposer mode is never activated.
func NewFactory(cfg *config.ConsensusConfig, initial []string, eras EraStateSource) (*Factory, error) {
	if len(initial) == 0 {
		return nil, errors.New("empty initial proposer list")
	}
	if cfg.AllowMinersJoinEra >= 0 && eras == nil {
		return nil, errors.New("multi-proposer mode requires an era state source")
	}
	return &Factory{cfg: cfg, initial: initial, eras: eras}, nil
}

func (f *Factory) powWait(parent *types.Block) int64 {
	era := EraAtHeight(parent.Height+1, f.cfg.BlocksPerEra)
	if f.cfg.BlockIntervalSwitchEra >= 0 && era >= f.cfg.BlockIntervalSwitchEra {
		return f.cfg.BlockIntervalSwitchTo * powWaitFactor
	}
	return f.cfg.BlockInterval * powWaitFactor
}

// Proposers returns the ordered proposer list in force for parent's child.
func (f *Factory) Proposers(parent *types.Block) []string {
	multi := f.cfg.AllowMinersJoinEra >= 0 &&
		EraAtHeight(parent.Height+1, f.cfg.BlocksPerEra) >= f.cfg.AllowMinersJoinEra

	if !multi && parent.Height >= f.cfg.LegacySingleProposerHeight {
		return f.initial[:1]
	}
	if !multi {
		return f.initial
	}
	if res := f.eras.Proposers(parent); len(res) > 0 {
		return res
	}
	return f.initial
}

// Proposer returns the proposer of the slot containing timestamp on top of
// parent. It reports false when timestamp does not follow parent.
func (f *Factory) Proposer(parent *types.Block, timestamp int64) (Proposer, bool) {
	if timestamp <= parent.Time {
		return Proposer{}, false
	}
	proposers := f.Proposers(parent)
	if parent.Height == 0 {
		return Proposer{PubkeyHash: proposers[0], Start: 0, End: math.MaxInt64}, true
	}

	wait := f.powWait(parent)
	step := (timestamp-parent.Time)/wait + 1
	last := indexOf(proposers, types.PubkeyHashHex(parent.Beneficiary()))
	// last >= -1 and step >= 1, so the index is never negative
	idx := (int64(last) + step) % int64(len(proposers))
	end := parent.Time + step*wait
	return Proposer{
		PubkeyHash: proposers[idx],
		Start:      end - wait,
		End:        end,
	}, true
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
