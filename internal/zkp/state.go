package zkp

import (
	"fmt"
	"math/big"

	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/primitives"
)

// PkSetEntry is one validator's contribution to a pk-tree leaf: its BLS
// public key (reduced to a field element) and the slot weight it carries.
// One entry per validator, not per slot — policy.Slots (512) slots are
// owned by a much smaller number of distinct validators in practice.
type PkSetEntry struct {
	Validator        primitives.Address
	PubkeyCommitment *big.Int
	Weight           *big.Int
}

// BuildPkSet derives one PkSetEntry per validator from vs, in the set's
// existing FirstSlot order.
func BuildPkSet(vs chain.ValidatorSet) []PkSetEntry {
	entries := make([]PkSetEntry, 0, len(vs.Slots))
	for _, s := range vs.Slots {
		entries = append(entries, PkSetEntry{
			Validator:        s.Validator.ValidatorAddress,
			PubkeyCommitment: fieldElement(s.Validator.BLSPublicKey),
			Weight:           big.NewInt(int64(s.NumSlots)),
		})
	}
	return entries
}

// SignerFlagsFromBitmap converts a Tendermint per-slot signer bitmap (see
// internal/tendermint's packBitmap) into one bool per validator in vs's
// FirstSlot order, by sampling the bit at each validator's FirstSlot — a
// validator's entire slot range is always marked together by
// internal/tendermint's voteSet, so any one bit in the range tells the
// whole story.
func SignerFlagsFromBitmap(vs chain.ValidatorSet, bitmap []bool) []bool {
	flags := make([]bool, len(vs.Slots))
	for i, s := range vs.Slots {
		if int(s.FirstSlot) < len(bitmap) {
			flags[i] = bitmap[s.FirstSlot]
		}
	}
	return flags
}

// PkTreeWitness is the full private+public assignment for one PkTreeCircuit
// proof, padded out to PkTreeSize.
type PkTreeWitness struct {
	Root             *big.Int
	SignedWeight     *big.Int
	PubkeyCommitment [PkTreeSize]*big.Int
	Weight           [PkTreeSize]*big.Int
	Signed           [PkTreeSize]*big.Int
}

// BuildPkTreeWitness folds entries (one per validator, signed per
// signerFlags) into a PkTreeWitness. Fewer than PkTreeSize entries are
// padded with zero-weight, unsigned leaves; more than PkTreeSize is an
// error since the circuit's array size is fixed at compile time.
func BuildPkTreeWitness(entries []PkSetEntry, signerFlags []bool) (*PkTreeWitness, error) {
	if len(entries) > PkTreeSize {
		return nil, fmt.Errorf("zkp: validator set has %d entries, exceeds pk-tree capacity %d", len(entries), PkTreeSize)
	}
	w := &PkTreeWitness{}
	acc := big.NewInt(0)
	signedSum := big.NewInt(0)
	for i := 0; i < PkTreeSize; i++ {
		commitment := big.NewInt(0)
		weight := big.NewInt(0)
		signed := false
		if i < len(entries) {
			commitment = entries[i].PubkeyCommitment
			weight = entries[i].Weight
			if i < len(signerFlags) {
				signed = signerFlags[i]
			}
		}
		w.PubkeyCommitment[i] = commitment
		w.Weight[i] = weight
		if signed {
			w.Signed[i] = big.NewInt(1)
			signedSum = new(big.Int).Add(signedSum, weight)
		} else {
			w.Signed[i] = big.NewInt(0)
		}
		acc = mimcFold(acc, commitment)
	}
	w.Root = acc
	w.SignedWeight = signedSum
	return w, nil
}

// ElectionRecord is one election block's proving inputs: the new header, its
// (possibly rotated) validator set, and the Tendermint finalization evidence
// that elected it.
type ElectionRecord struct {
	HeaderHash   primitives.Hash
	Validators   chain.ValidatorSet
	SignerBitmap []byte // packed, see internal/tendermint.packBitmap
	SlotCount    int    // total slots the bitmap covers (policy.Slots)
	AggregateSig []byte
}

// GenesisCommitment is the sentinel "no prior epoch" state/merger
// commitment. The zero field element is never produced by mimcCommit on
// real inputs (the accumulator always folds in at least one non-zero
// header hash), so it's safe to reserve as genesis's fixed point.
var GenesisCommitment = big.NewInt(0)
