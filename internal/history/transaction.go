// Package history implements the epoch-indexed historic-transaction index
// (one Merkle Mountain Range per epoch) and its companion validity store,
// used to answer "was this transaction ever included" and "replay this
// epoch's transactions" queries for both full and light nodes.
package history

import (
	"encoding/binary"

	"github.com/albatross-go/node/internal/mmr"
	"github.com/albatross-go/node/internal/primitives"
)

// Kind distinguishes the three origins a history leaf can have.
type Kind uint8

const (
	KindTransaction  Kind = 0
	KindInherent     Kind = 1
	KindEquivocation Kind = 2
)

// HistoricTransaction is one leaf of an epoch's history MMR: a record of a
// single executed transaction, inherent, or reported equivocation, tagged
// with the block it was included in.
type HistoricTransaction struct {
	NetworkID   primitives.NetworkID
	BlockNumber uint32
	BlockTime   uint64
	Kind        Kind

	// Transaction/Executed are set when Kind == KindTransaction.
	// Executed records whether applying the transaction against the
	// accounts trie succeeded — a failed transaction still consumes its
	// fee and is still part of history, but it is recorded as failed
	// rather than silently omitted.
	Transaction primitives.Transaction
	Executed    bool

	// Inherent is set when Kind == KindInherent.
	Inherent primitives.Inherent

	// EquivocationLocator is set when Kind == KindEquivocation: the hash
	// identifying the reported equivocation proof.
	EquivocationLocator primitives.Hash
}

// SerializeContent produces the deterministic byte layout hashed into the
// history MMR as this entry's leaf. Like Transaction.SerializeContent,
// field order and width here are fixed once leaves referencing it exist.
func (h HistoricTransaction) SerializeContent() []byte {
	buf := make([]byte, 0, 1+4+8+1+64)
	buf = append(buf, byte(h.NetworkID))
	buf = appendUint32(buf, h.BlockNumber)
	buf = appendUint64(buf, h.BlockTime)
	buf = append(buf, byte(h.Kind))

	switch h.Kind {
	case KindTransaction:
		if h.Executed {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = append(buf, h.Transaction.SerializeContent()...)
	case KindInherent:
		buf = append(buf, h.Inherent.SerializeContent()...)
	case KindEquivocation:
		buf = append(buf, h.EquivocationLocator[:]...)
	}
	return buf
}

// Hash returns this entry's leaf hash under the MMR's leaf domain tag.
func (h HistoricTransaction) Hash() primitives.Hash {
	return mmr.LeafHash(h.SerializeContent())
}

// TxHash returns the underlying transaction's own hash for KindTransaction
// entries — the value the address index and validity store key on, as
// opposed to Hash()'s leaf hash (which also covers the block/epoch
// context and so differs for the same transaction included twice).
func (h HistoricTransaction) TxHash() primitives.Hash {
	return h.Transaction.Hash()
}

// IdentityHash is the hash a caller outside the history engine would
// already recognize this entry by: the wrapped transaction's own hash for
// KindTransaction, or this entry's leaf hash otherwise (an inherent has no
// independent identity of its own). The address index keys on this, not
// on Hash(), so a client looking up a transaction hash it already holds
// finds it without needing to know the leaf's block/epoch context.
func (h HistoricTransaction) IdentityHash() primitives.Hash {
	if h.Kind == KindTransaction {
		return h.TxHash()
	}
	return h.Hash()
}

// ExecutedTransaction pairs a transaction with whether it executed
// successfully, the unit BuildHistoricTransactions consumes for the
// transaction portion of a block.
type ExecutedTransaction struct {
	Transaction primitives.Transaction
	Ok          bool
}

// BuildHistoricTransactions assembles a block's history leaves in the
// order the history engine requires: transactions in block order, then
// inherents, then equivocation locators.
func BuildHistoricTransactions(
	network primitives.NetworkID,
	blockNumber uint32,
	blockTime uint64,
	txs []ExecutedTransaction,
	inherents []primitives.Inherent,
	equivocations []primitives.Hash,
) []HistoricTransaction {
	out := make([]HistoricTransaction, 0, len(txs)+len(inherents)+len(equivocations))
	for _, tx := range txs {
		out = append(out, HistoricTransaction{
			NetworkID:   network,
			BlockNumber: blockNumber,
			BlockTime:   blockTime,
			Kind:        KindTransaction,
			Transaction: tx.Transaction,
			Executed:    tx.Ok,
		})
	}
	for _, inh := range inherents {
		out = append(out, HistoricTransaction{
			NetworkID:   network,
			BlockNumber: blockNumber,
			BlockTime:   blockTime,
			Kind:        KindInherent,
			Inherent:    inh,
		})
	}
	for _, loc := range equivocations {
		out = append(out, HistoricTransaction{
			NetworkID:           network,
			BlockNumber:         blockNumber,
			BlockTime:           blockTime,
			Kind:                KindEquivocation,
			EquivocationLocator: loc,
		})
	}
	return out
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
