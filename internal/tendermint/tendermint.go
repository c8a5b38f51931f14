// Package tendermint implements the pipelined propose/prevote/precommit
// state machine spec.md §4.7 describes for finalizing macro blocks: one
// persistent Machine per height, BLS-aggregated votes represented as a
// signer bitmap over the active ValidatorSet's 512 slots, and a Manager
// that lets a height's Machine run while the previous height is still
// deciding.
package tendermint

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/blssig"
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/primitives"
)

// Step is one of the four states spec.md §4.7 names.
type Step uint8

const (
	StepPropose Step = iota
	StepPrevote
	StepPrecommit
	StepCommit
)

func (s Step) String() string {
	switch s {
	case StepPropose:
		return "propose"
	case StepPrevote:
		return "prevote"
	case StepPrecommit:
		return "precommit"
	case StepCommit:
		return "commit"
	default:
		return fmt.Sprintf("step(%d)", uint8(s))
	}
}

func domainForStep(step Step) string {
	if step == StepPrecommit {
		return blssig.DomainTendermintPrecommit
	}
	return blssig.DomainTendermintPrevote
}

// Vote is one signed (height, round, step, block_hash_or_nil) message, per
// spec.md §4.7. Slot identifies the signer by the first slot of the
// validator's range in the active ValidatorSet — stable across that
// validator's whole slot allocation, so a vote for any of its slots
// resolves to the same identity.
type Vote struct {
	Height    uint32
	Round     uint32
	Step      Step
	Nil       bool
	BlockHash primitives.Hash
	Slot      uint16
	Signature *blssig.Signature
}

func (v Vote) signedContent() []byte {
	buf := make([]byte, 0, 1+4+4+1+primitives.HashSize)
	buf = append(buf, byte(v.Step))
	buf = appendUint32(buf, v.Height)
	buf = appendUint32(buf, v.Round)
	if v.Nil {
		buf = append(buf, 0)
	} else {
		buf = append(buf, 1)
		buf = append(buf, v.BlockHash[:]...)
	}
	return buf
}

// SignVote produces a Vote for (height, round, step, hash) signed by sk.
// hash is nil for a nil-vote (no value locked/seen).
func SignVote(sk *blssig.PrivateKey, slot uint16, height, round uint32, step Step, hash *primitives.Hash) (Vote, error) {
	v := Vote{Height: height, Round: round, Step: step, Slot: slot}
	if hash == nil {
		v.Nil = true
	} else {
		v.BlockHash = *hash
	}
	sig, err := sk.SignWithDomain(domainForStep(step), v.signedContent())
	if err != nil {
		return Vote{}, fmt.Errorf("tendermint: sign vote: %w", err)
	}
	v.Signature = sig
	return v, nil
}

// VerifyVote checks v's signature against pk.
func VerifyVote(pk *blssig.PublicKey, v Vote) bool {
	if v.Signature == nil {
		return false
	}
	return pk.VerifyWithDomain(v.Signature, domainForStep(v.Step), v.signedContent())
}

// Proposal is a proposer's broadcast of a candidate macro block for
// (height, round), or a re-proposal of an earlier round's value once it is
// locked in (ValidRound >= 0) per the proof-of-lock-change rule.
type Proposal struct {
	Height     uint32
	Round      uint32
	ValidRound int32 // -1 if the proposer has no earlier valid round to justify this value
	Block      *chain.MacroBlock
	Slot       uint16 // proposer's identifying slot, see Vote.Slot
	Signature  *blssig.Signature
}

func (p Proposal) signedContent() []byte {
	hash := p.Block.Hash()
	buf := make([]byte, 0, 4+4+4+primitives.HashSize)
	buf = appendUint32(buf, p.Height)
	buf = appendUint32(buf, p.Round)
	buf = appendInt32(buf, p.ValidRound)
	buf = append(buf, hash[:]...)
	return buf
}

// SignProposal signs a Proposal with the proposer's BLS key.
func SignProposal(sk *blssig.PrivateKey, p Proposal) (Proposal, error) {
	sig, err := sk.SignWithDomain(blssig.DomainTendermintProposal, p.signedContent())
	if err != nil {
		return Proposal{}, fmt.Errorf("tendermint: sign proposal: %w", err)
	}
	p.Signature = sig
	return p, nil
}

// VerifyProposal checks p's signature against pk.
func VerifyProposal(pk *blssig.PublicKey, p Proposal) bool {
	if p.Signature == nil {
		return false
	}
	return pk.VerifyWithDomain(p.Signature, blssig.DomainTendermintProposal, p.signedContent())
}

// Decision is a Machine's terminal output: the decided macro block plus
// the aggregated 2f+1 precommit proof that finalizes it.
type Decision struct {
	Block *chain.MacroBlock
	Proof chain.TendermintProof
}

// ErrCancelled is returned to callers still waiting on a Machine that was
// torn down by Cancel (e.g. the block for this height arrived via normal
// sync before local consensus decided).
var ErrCancelled = errors.New("tendermint: height cancelled")

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	return appendUint32(buf, uint32(v))
}
