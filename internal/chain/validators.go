package chain

import (
	"encoding/binary"
	"fmt"

	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
)

// Slot is one contiguous range of the SLOTS total validator slots assigned
// to a single validator, stable for the epoch the owning ValidatorSet
// covers.
type Slot struct {
	Validator primitives.ValidatorRecord
	// FirstSlot and NumSlots describe the [FirstSlot, FirstSlot+NumSlots)
	// range this validator holds, out of policy.Slots total.
	FirstSlot uint16
	NumSlots  uint16
}

// ValidatorSet is the slot allocation spec.md §3 names: an ordered list of
// (validator identity, slot range) covering exactly policy.Slots slots,
// rotated only at election blocks.
type ValidatorSet struct {
	Epoch uint32
	Slots []Slot
}

// SerializeContent is the deterministic byte layout hashed/signed as part
// of an election MacroHeader.
func (v ValidatorSet) SerializeContent() []byte {
	buf := make([]byte, 0, 8+len(v.Slots)*64)
	buf = appendUint32(buf, v.Epoch)
	buf = appendUint32(buf, uint32(len(v.Slots)))
	for _, s := range v.Slots {
		buf = append(buf, s.Validator.SerializeContent()...)
		buf = appendUint16(buf, s.FirstSlot)
		buf = appendUint16(buf, s.NumSlots)
	}
	return buf
}

// TotalSlots sums NumSlots across the set, which must equal policy.Slots
// for a well-formed election block.
func (v ValidatorSet) TotalSlots() uint16 {
	var total uint32
	for _, s := range v.Slots {
		total += uint32(s.NumSlots)
	}
	return uint16(total)
}

// Validate reports whether the set exactly covers policy.Slots slots with
// no gaps or overlaps, in ascending FirstSlot order.
func (v ValidatorSet) Validate() error {
	if len(v.Slots) == 0 {
		return fmt.Errorf("chain: validator set has no slots")
	}
	want := uint16(0)
	for i, s := range v.Slots {
		if s.FirstSlot != want {
			return fmt.Errorf("chain: validator set slot %d starts at %d, want %d (gap or overlap)", i, s.FirstSlot, want)
		}
		if s.NumSlots == 0 {
			return fmt.Errorf("chain: validator set slot %d has zero width", i)
		}
		want += s.NumSlots
	}
	if want != policy.Slots {
		return fmt.Errorf("chain: validator set covers %d slots, want %d", want, policy.Slots)
	}
	return nil
}

// SlotOwner returns the validator holding the given slot index, or an
// error if the set doesn't cover it (implies an invalid set).
func (v ValidatorSet) SlotOwner(slot uint16) (primitives.ValidatorRecord, error) {
	for _, s := range v.Slots {
		if slot >= s.FirstSlot && slot < s.FirstSlot+s.NumSlots {
			return s.Validator, nil
		}
	}
	return primitives.ValidatorRecord{}, fmt.Errorf("chain: slot %d not covered by validator set for epoch %d", slot, v.Epoch)
}

// LeaderSlot derives the slot index assigned to produce blockNumber's
// micro block: a deterministic function of height and the epoch's VRF
// seed, weighted implicitly by each validator's slot share since the slot
// index itself is drawn uniformly from [0, policy.Slots).
func LeaderSlot(seed []byte, blockNumber uint32) uint16 {
	buf := make([]byte, 0, len(seed)+4)
	buf = append(buf, seed...)
	buf = appendUint32(buf, blockNumber)
	h := primitives.ComputeTaggedHash([]byte("albatross-leader-slot"), buf)
	v := binary.BigEndian.Uint64(h[:8])
	return uint16(v % uint64(policy.Slots))
}

// LeaderAt returns the validator expected to produce blockNumber's micro
// block under seed (the previous block's VRF seed).
func (v ValidatorSet) LeaderAt(seed []byte, blockNumber uint32) (primitives.ValidatorRecord, error) {
	return v.SlotOwner(LeaderSlot(seed, blockNumber))
}

// TendermintProposer returns the designated proposer for macro-block
// consensus round (h, r): validators[(h + r) mod |validators|] weighted by
// slot share, per spec.md §4.7 — here "validators" enumerates one entry
// per slot so heavier-staked validators are proportionally more likely to
// be selected as (h+r) varies.
func (v ValidatorSet) TendermintProposer(h uint32, r uint32) (primitives.ValidatorRecord, error) {
	if v.TotalSlots() == 0 {
		return primitives.ValidatorRecord{}, fmt.Errorf("chain: validator set for epoch %d has no slots", v.Epoch)
	}
	slot := uint16((uint64(h) + uint64(r)) % uint64(v.TotalSlots()))
	return v.SlotOwner(slot)
}
