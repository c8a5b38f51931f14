package history

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/mmr"
	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

var (
	// ErrNotSupportedByLightStore is returned by Light for every query a
	// peaks-only history index cannot answer, instead of panicking the
	// way the original's unimplemented!() stubs did.
	ErrNotSupportedByLightStore = errors.New("history: not supported by a light (peaks-only) store")

	// ErrEpochNotFound reports an epoch with no history tree at all. No
	// function in this package returns it: an epoch that never had a
	// block added reads as an empty MMR.
	ErrEpochNotFound = errors.New("history: epoch has no history tree")

	// ErrNoReceipt is returned by RemoveBlock when the block has no
	// recorded receipt to undo, e.g. it was never added or was already
	// removed.
	ErrNoReceipt = errors.New("history: no receipt for block")
)

// Chunk is a contiguous slice of an epoch's history, proved against the
// epoch root as of a verifier's known leaf count — the unit a peer streams
// while syncing an epoch's history.
type Chunk struct {
	Epoch      uint32
	StartIndex uint64
	Items      []HistoricTransaction
	RangeProof mmr.RangeProof
}

// VerifyChunk checks that chunk.Items are exactly the leaves
// chunk.RangeProof claims at chunk.StartIndex, and that the range proof
// itself verifies against root — the counterpart a syncing peer runs
// against every Chunk a full node streams it.
func VerifyChunk(root primitives.Hash, chunk Chunk) error {
	if chunk.RangeProof.Start != chunk.StartIndex {
		return fmt.Errorf("history: chunk start %d does not match range proof start %d", chunk.StartIndex, chunk.RangeProof.Start)
	}
	if len(chunk.Items) != len(chunk.RangeProof.LeafHashes) {
		return fmt.Errorf("history: chunk carries %d items but range proof has %d leaf hashes", len(chunk.Items), len(chunk.RangeProof.LeafHashes))
	}
	for i, item := range chunk.Items {
		if mmr.LeafHash(item.SerializeContent()) != chunk.RangeProof.LeafHashes[i] {
			return fmt.Errorf("history: chunk item %d does not match its claimed leaf hash", i)
		}
	}
	return mmr.VerifyRangeProof(root, chunk.RangeProof)
}

// Store is the contract both the full and light history engines implement.
// Light answers only AddBlock/RemoveBlock/Root/TotalLenAtEpoch; every other
// method returns ErrNotSupportedByLightStore.
type Store interface {
	// AddBlock appends blockNumber's history leaves to epoch's MMR and
	// returns the new epoch root and total leaf count.
	AddBlock(wtx storage.WriteTransaction, epoch uint32, blockNumber uint32, items []HistoricTransaction) (primitives.Hash, uint64, error)

	// RemoveBlock reverts the leaves a prior AddBlock(blockNumber, ...)
	// appended, restoring the epoch's MMR to its pre-block state. Blocks
	// must be removed in the reverse order they were added (LIFO), the
	// same order the chain's rebranch/revert path unwinds blocks in.
	RemoveBlock(wtx storage.WriteTransaction, blockNumber uint32) error

	Root(rtx storage.ReadTransaction, epoch uint32) (primitives.Hash, error)
	TotalLenAtEpoch(rtx storage.ReadTransaction, epoch uint32) (uint64, error)

	GetBlockTransactions(rtx storage.ReadTransaction, blockNumber uint32) ([]HistoricTransaction, error)
	GetTxHashesByAddress(rtx storage.ReadTransaction, addr primitives.Address, max uint16) ([]primitives.Hash, error)
	ProveChunk(rtx storage.ReadTransaction, epoch uint32, verifierLeaves uint64, chunkSize, chunkIndex int) (*Chunk, error)
}

func epochKey(epoch uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], epoch)
	return b[:]
}

func blockKey(blockNumber uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], blockNumber)
	return b[:]
}

func leafKey(epoch uint32, index uint64) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:4], epoch)
	binary.BigEndian.PutUint64(b[4:12], index)
	return b
}
