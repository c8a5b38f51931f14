// Package chain implements the block pipeline: push/revert, fork choice,
// the persisted chain store, and the validator-set rotation that drives
// leader selection. It is the component every other piece of consensus
// logic (the history engine, the accounts trie, Tendermint) is driven
// through, one block at a time inside a single write transaction.
package chain

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/albatross-go/node/internal/history"
	"github.com/albatross-go/node/internal/primitives"
)

// Block is the tagged union spec.md §3 describes: a Micro block produced
// by a rotating slot leader, or a Macro block (checkpoint or election)
// finalized by Tendermint.
type Block interface {
	BlockKind() Kind
	Height() uint32
	ParentHash() primitives.Hash
	Timestamp() uint64
	Network() primitives.NetworkID
	Hash() primitives.Hash
	// IsElection reports whether this block rotates the validator set.
	// Always false for a Micro block.
	IsElection() bool
}

// Kind discriminates the two block shapes.
type Kind uint8

const (
	KindMicro Kind = 0
	KindMacro Kind = 1
)

func (k Kind) String() string {
	if k == KindMicro {
		return "micro"
	}
	return "macro"
}

var (
	microHeaderTag = []byte("albatross-micro-header")
	macroHeaderTag = []byte("albatross-macro-header")
)

// MicroHeader is a micro block's header: the fields that are signed by the
// producer and whose hash anchors the body and the three other subsystem
// roots.
type MicroHeader struct {
	Network     primitives.NetworkID
	HeightField uint32
	Parent      primitives.Hash
	Seed        []byte // VRF seed, used to derive the next block's leader entropy
	StateRoot   primitives.Hash
	BodyRoot    primitives.Hash
	HistoryRoot primitives.Hash
	TimestampMS uint64
}

// SerializeContent is the deterministic byte layout hashed into the
// header's own identity and signed by the producer.
func (h MicroHeader) SerializeContent() []byte {
	buf := make([]byte, 0, 128+len(h.Seed))
	buf = append(buf, byte(h.Network))
	buf = appendUint32(buf, h.HeightField)
	buf = append(buf, h.Parent[:]...)
	buf = appendUint16(buf, uint16(len(h.Seed)))
	buf = append(buf, h.Seed...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.BodyRoot[:]...)
	buf = append(buf, h.HistoryRoot[:]...)
	buf = appendUint64(buf, h.TimestampMS)
	return buf
}

func (h MicroHeader) Hash() primitives.Hash {
	return primitives.ComputeTaggedHash(microHeaderTag, h.SerializeContent())
}

// SkipBlockInfo records that this micro block's slot skipped a leader that
// failed to produce, for reward-penalty bookkeeping at the next batch.
type SkipBlockInfo struct {
	SkippedSlots []uint16
}

// MicroBody is a micro block's body: its ordered transactions, any
// reported equivocation proofs, and skip-block metadata.
type MicroBody struct {
	Transactions        []primitives.Transaction
	EquivocationProofs  []EquivocationProof
	SkipBlock           *SkipBlockInfo
}

// Root hashes the body's content into BodyRoot, independent of the exact
// transaction count so a verifier can check header/body consistency
// without re-walking the whole accounts/history pipeline.
func (b MicroBody) Root() primitives.Hash {
	buf := make([]byte, 0, 32*(len(b.Transactions)+len(b.EquivocationProofs)+1))
	for _, tx := range b.Transactions {
		h := tx.Hash()
		buf = append(buf, h[:]...)
	}
	for _, eq := range b.EquivocationProofs {
		h := eq.Hash()
		buf = append(buf, h[:]...)
	}
	if b.SkipBlock != nil {
		for _, slot := range b.SkipBlock.SkippedSlots {
			buf = appendUint16(buf, slot)
		}
	}
	return primitives.ComputeHash(buf)
}

// MicroBlock is a Micro block: header, body, and the producer's signature
// over the header hash.
type MicroBlock struct {
	Header          MicroHeader
	Body            MicroBody
	ProducerProof   primitives.SignatureProof
}

func (b *MicroBlock) BlockKind() Kind                     { return KindMicro }
func (b *MicroBlock) Height() uint32                       { return b.Header.HeightField }
func (b *MicroBlock) ParentHash() primitives.Hash          { return b.Header.Parent }
func (b *MicroBlock) Timestamp() uint64                    { return b.Header.TimestampMS }
func (b *MicroBlock) Network() primitives.NetworkID        { return b.Header.Network }
func (b *MicroBlock) Hash() primitives.Hash                { return b.Header.Hash() }
func (b *MicroBlock) IsElection() bool                     { return false }

// Producer recovers the address that signed this block's header, checking
// the signature at the same time.
func (b *MicroBlock) Producer() (primitives.Address, error) {
	if b.ProducerProof == nil {
		return primitives.Address{}, fmt.Errorf("chain: micro block %d has no producer proof", b.Header.HeightField)
	}
	headerHash := b.Header.Hash()
	return b.ProducerProof.ComputeSigner(headerHash[:])
}

// microBlockRecord is MicroBlock's JSON persisted shape. ProducerProof is
// an interface (primitives.SignatureProof), which encoding/json cannot
// round-trip on its own — MarshalJSON/UnmarshalJSON below tag it with its
// Kind so the concrete type can be reconstructed on read-back.
type microBlockRecord struct {
	Header            MicroHeader             `json:"header"`
	Body              MicroBody               `json:"body"`
	ProducerProofKind primitives.SignatureProofKind `json:"producer_proof_kind"`
	ProducerProof     json.RawMessage         `json:"producer_proof"`
}

func (b MicroBlock) MarshalJSON() ([]byte, error) {
	rec := microBlockRecord{Header: b.Header, Body: b.Body}
	if b.ProducerProof != nil {
		raw, err := json.Marshal(b.ProducerProof)
		if err != nil {
			return nil, fmt.Errorf("chain: encode producer proof: %w", err)
		}
		rec.ProducerProofKind = b.ProducerProof.Kind()
		rec.ProducerProof = raw
	}
	return json.Marshal(rec)
}

func (b *MicroBlock) UnmarshalJSON(data []byte) error {
	var rec microBlockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	b.Header = rec.Header
	b.Body = rec.Body
	if len(rec.ProducerProof) == 0 {
		return nil
	}
	switch rec.ProducerProofKind {
	case primitives.ProofKindEdDSA:
		var p primitives.EdDSASignatureProof
		if err := json.Unmarshal(rec.ProducerProof, &p); err != nil {
			return fmt.Errorf("chain: decode EdDSA producer proof: %w", err)
		}
		b.ProducerProof = p
	case primitives.ProofKindWebAuthn:
		var p primitives.WebauthnSignatureProof
		if err := json.Unmarshal(rec.ProducerProof, &p); err != nil {
			return fmt.Errorf("chain: decode WebAuthn producer proof: %w", err)
		}
		b.ProducerProof = p
	default:
		return fmt.Errorf("chain: unknown producer proof kind %d", rec.ProducerProofKind)
	}
	return nil
}

// TendermintProof is a macro block's finalization evidence: a BLS
// aggregate signature plus a bitset of which of the 2f+1-quorum slots
// signed it.
type TendermintProof struct {
	Round         uint32
	SignerBitmap  []byte // packed bits, one per slot
	AggregateSig  []byte // serialized BLS12-381 G1 point
}

// MacroHeader is a macro block's header. Unlike a micro header it carries
// no body root (the body is the pk-tree root) and, on an election block,
// the new validator set.
type MacroHeader struct {
	Network     primitives.NetworkID
	HeightField uint32
	Parent      primitives.Hash
	StateRoot   primitives.Hash
	HistoryRoot primitives.Hash
	PKTreeRoot  primitives.Hash
	TimestampMS uint64
	Election    bool
	NextValidators *ValidatorSet // non-nil only when Election is true
}

func (h MacroHeader) SerializeContent() []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, byte(h.Network))
	buf = appendUint32(buf, h.HeightField)
	buf = append(buf, h.Parent[:]...)
	buf = append(buf, h.StateRoot[:]...)
	buf = append(buf, h.HistoryRoot[:]...)
	buf = append(buf, h.PKTreeRoot[:]...)
	buf = appendUint64(buf, h.TimestampMS)
	if h.Election {
		buf = append(buf, 1)
		buf = append(buf, h.NextValidators.SerializeContent()...)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func (h MacroHeader) Hash() primitives.Hash {
	return primitives.ComputeTaggedHash(macroHeaderTag, h.SerializeContent())
}

// MacroBlock is a checkpoint or election macro block.
type MacroBlock struct {
	Header MacroHeader
	Proof  TendermintProof
}

func (b *MacroBlock) BlockKind() Kind              { return KindMacro }
func (b *MacroBlock) Height() uint32               { return b.Header.HeightField }
func (b *MacroBlock) ParentHash() primitives.Hash  { return b.Header.Parent }
func (b *MacroBlock) Timestamp() uint64            { return b.Header.TimestampMS }
func (b *MacroBlock) Network() primitives.NetworkID { return b.Header.Network }
func (b *MacroBlock) Hash() primitives.Hash        { return b.Header.Hash() }
func (b *MacroBlock) IsElection() bool             { return b.Header.Election }

// EquivocationProof is evidence that a validator signed two conflicting
// messages at the same height/round — either two micro blocks for the same
// slot, or two Tendermint votes for the same (height, round, step).
type EquivocationProof struct {
	Offender    primitives.Address
	BlockHeight uint32
	EvidenceA   []byte
	EvidenceB   []byte
}

func (e EquivocationProof) SerializeContent() []byte {
	buf := make([]byte, 0, primitives.AddressSize+4+len(e.EvidenceA)+len(e.EvidenceB)+4)
	buf = append(buf, e.Offender[:]...)
	buf = appendUint32(buf, e.BlockHeight)
	buf = appendUint16(buf, uint16(len(e.EvidenceA)))
	buf = append(buf, e.EvidenceA...)
	buf = append(buf, e.EvidenceB...)
	return buf
}

func (e EquivocationProof) Hash() primitives.Hash {
	return primitives.ComputeHash(e.SerializeContent())
}

// ExecutedTransactions maps a MicroBody's transactions into the shape the
// accounts and history engines consume, given each one's application
// outcome in block order.
func ExecutedTransactions(body MicroBody, outcomes []bool) []history.ExecutedTransaction {
	out := make([]history.ExecutedTransaction, len(body.Transactions))
	for i, tx := range body.Transactions {
		ok := i < len(outcomes) && outcomes[i]
		out[i] = history.ExecutedTransaction{Transaction: tx, Ok: ok}
	}
	return out
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
