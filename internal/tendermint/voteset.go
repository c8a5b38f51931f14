package tendermint

import (
	"github.com/albatross-go/node/internal/blssig"
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
)

// nilKey is the value-key a nil vote accumulates under; a real block hash
// can never collide with it because every MacroHeader hash commits to a
// non-empty Network byte and height, so the all-zero digest never occurs
// in practice for an honestly-produced header.
var nilKey primitives.Hash

func valueKeyOf(v Vote) primitives.Hash {
	if v.Nil {
		return nilKey
	}
	return v.BlockHash
}

// slotRecord is what a validator's first slot contributed to one (round,
// step) accumulator, kept so a second, differently-valued vote from the
// same validator can be recognized as equivocation instead of silently
// overwriting the first.
type slotRecord struct {
	vote Vote
	key  primitives.Hash
}

// voteSet aggregates every vote seen for one (height, round, step) triple,
// grouped by the value voted for. Duplicate votes from the same validator
// for the same value are idempotent (spec.md §4.7); a second vote for a
// different value is equivocation evidence.
type voteSet struct {
	validators chain.ValidatorSet

	perValidator map[uint16]slotRecord // keyed by validator's FirstSlot
	weight       map[primitives.Hash]uint16
	sigs         map[primitives.Hash][]*blssig.Signature
	bitmap       map[primitives.Hash][]bool
}

func newVoteSet(validators chain.ValidatorSet) *voteSet {
	return &voteSet{
		validators:   validators,
		perValidator: make(map[uint16]slotRecord),
		weight:       make(map[primitives.Hash]uint16),
		sigs:         make(map[primitives.Hash][]*blssig.Signature),
		bitmap:       make(map[primitives.Hash][]bool),
	}
}

// slotRangeOf locates the [firstSlot, firstSlot+numSlots) range covering
// slot within vs's validator set.
func (vs *voteSet) slotRangeOf(slot uint16) (first, num uint16, ok bool) {
	for _, s := range vs.validators.Slots {
		if slot >= s.FirstSlot && slot < s.FirstSlot+s.NumSlots {
			return s.FirstSlot, s.NumSlots, true
		}
	}
	return 0, 0, false
}

// Add records v. isNew is false for an idempotent duplicate. equivocation
// is non-nil when the signing validator already voted for a different
// value at this (height, round, step) — the caller is responsible for
// turning the pair into a chain.EquivocationProof.
func (vs *voteSet) Add(v Vote) (isNew bool, equivocation *Vote, err error) {
	first, num, ok := vs.slotRangeOf(v.Slot)
	if !ok {
		return false, nil, errUnknownSlot(v.Slot)
	}
	key := valueKeyOf(v)

	if prior, seen := vs.perValidator[first]; seen {
		if prior.key == key {
			return false, nil, nil
		}
		priorVote := prior.vote
		return false, &priorVote, nil
	}

	vs.perValidator[first] = slotRecord{vote: v, key: key}
	vs.weight[key] += num
	vs.sigs[key] = append(vs.sigs[key], v.Signature)
	bm := vs.bitmap[key]
	if bm == nil {
		bm = make([]bool, policy.Slots)
		vs.bitmap[key] = bm
	}
	for s := first; s < first+num; s++ {
		bm[s] = true
	}
	return true, nil, nil
}

// WeightFor returns the slot-weighted total of votes recorded for key.
func (vs *voteSet) WeightFor(key primitives.Hash) uint16 {
	return vs.weight[key]
}

// HasQuorum reports whether key has accumulated at least 2f+1 slots.
func (vs *voteSet) HasQuorum(key primitives.Hash) bool {
	return vs.weight[key] >= policy.TwoFPlusOne
}

// QuorumValue returns the first value-key (preferring a non-nil one) that
// has reached quorum, and whether any did.
func (vs *voteSet) QuorumValue() (key primitives.Hash, isNilVote bool, ok bool) {
	for k, w := range vs.weight {
		if w >= policy.TwoFPlusOne && k != nilKey {
			return k, false, true
		}
	}
	if vs.weight[nilKey] >= policy.TwoFPlusOne {
		return nilKey, true, true
	}
	return primitives.Hash{}, false, false
}

// Aggregate builds the TendermintProof for key: a BLS aggregate signature
// over every recorded signature plus the packed signer bitmap.
func (vs *voteSet) Aggregate(round uint32, key primitives.Hash) (chain.TendermintProof, error) {
	sigs := vs.sigs[key]
	aggSig, err := blssig.AggregateSignatures(sigs)
	if err != nil {
		return chain.TendermintProof{}, err
	}
	return chain.TendermintProof{
		Round:        round,
		SignerBitmap: packBitmap(vs.bitmap[key]),
		AggregateSig: aggSig.Bytes(),
	}, nil
}

// packBitmap packs one bool per slot, least-significant bit first within
// each byte (bit 0 of byte 0 is slot 0), independent of any particular bitset
// library's internal layout so the wire format is ours to keep stable.
func packBitmap(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBitmap is packBitmap's inverse, used by light clients/the ZK
// prover to recover which slots signed a TendermintProof.
func unpackBitmap(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		if i/8 < len(data) {
			out[i] = data[i/8]&(1<<uint(i%8)) != 0
		}
	}
	return out
}

type errUnknownSlot uint16

func (e errUnknownSlot) Error() string {
	return "tendermint: slot not covered by the active validator set"
}
