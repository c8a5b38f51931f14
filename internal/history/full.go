package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/albatross-go/node/internal/mmr"
	"github.com/albatross-go/node/internal/policy"
	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// ErrChunkOutOfRange is returned by Full.ProveChunk when chunkIndex has no
// leaves left to serve, or the requested chunk would exceed the serialized
// size bound.
var ErrChunkOutOfRange = errors.New("history: chunk out of range")

// Full is the history engine a full node persists: every leaf is kept
// (enabling per-transaction retrieval, range/chunk proofs, and an address
// index), alongside the same peaks-only fast path Light uses for O(1)
// Root/TotalLenAtEpoch.
//
// chunkTree holds the one MMR most recently rebuilt by ProveChunk, so a
// peer streaming every chunk of an epoch at a fixed verifierLeaves only
// pays the O(N) leaf-reload-and-push cost once instead of once per chunk.
type Full struct {
	mu             sync.Mutex
	chunkTreeEpoch uint32
	chunkTreeLen   uint64
	chunkTree      *mmr.Full
}

// NewFull creates a full history engine.
func NewFull() *Full { return &Full{} }

func (f *Full) loadPeaks(rtx storage.ReadTransaction, epoch uint32) (*mmr.Peaks, error) {
	raw, err := rtx.Get(storage.TableHistoryMeta, epochKey(epoch))
	if errors.Is(err, storage.ErrNotFound) {
		return mmr.NewPeaks(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: load epoch %d peaks: %w", epoch, err)
	}
	var state peaksState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("history: decode epoch %d peaks: %w", epoch, err)
	}
	return mmr.RestorePeaks(state.NumLeaves, state.Peaks)
}

func (f *Full) savePeaks(wtx storage.WriteTransaction, epoch uint32, tree *mmr.Peaks) error {
	state := peaksState{NumLeaves: tree.NumLeaves(), Peaks: tree.PeakHashes()}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("history: encode epoch %d peaks: %w", epoch, err)
	}
	return wtx.Put(storage.TableHistoryMeta, epochKey(epoch), raw)
}

// addresses returns the accounts a history leaf should be indexed under.
func (item HistoricTransaction) addresses() []primitives.Address {
	switch item.Kind {
	case KindTransaction:
		if item.Transaction.Sender == item.Transaction.Recipient {
			return []primitives.Address{item.Transaction.Sender}
		}
		return []primitives.Address{item.Transaction.Sender, item.Transaction.Recipient}
	case KindInherent:
		if item.Inherent.Target == item.Inherent.ValidatorID {
			return []primitives.Address{item.Inherent.Target}
		}
		return []primitives.Address{item.Inherent.Target, item.Inherent.ValidatorID}
	default:
		return nil
	}
}

func addrIndexEntry(blockNumber uint32, txHash primitives.Hash) []byte {
	buf := make([]byte, 4+primitives.HashSize)
	binary.BigEndian.PutUint32(buf[0:4], blockNumber)
	copy(buf[4:], txHash[:])
	return buf
}

func decodeAddrIndexEntry(raw []byte) (blockNumber uint32, txHash primitives.Hash, ok bool) {
	if len(raw) != 4+primitives.HashSize {
		return 0, primitives.Hash{}, false
	}
	blockNumber = binary.BigEndian.Uint32(raw[0:4])
	copy(txHash[:], raw[4:])
	return blockNumber, txHash, true
}

func (f *Full) AddBlock(wtx storage.WriteTransaction, epoch uint32, blockNumber uint32, items []HistoricTransaction) (primitives.Hash, uint64, error) {
	tree, err := f.loadPeaks(wtx, epoch)
	if err != nil {
		return primitives.Hash{}, 0, err
	}
	startIndex := tree.NumLeaves()
	receipt := blockReceipt{
		Epoch:         epoch,
		LeavesAdded:   uint64(len(items)),
		PrevNumLeaves: startIndex,
		PrevPeaks:     tree.PeakHashes(),
	}

	for i, item := range items {
		tree.Push(item.SerializeContent())

		raw, err := json.Marshal(item)
		if err != nil {
			return primitives.Hash{}, 0, fmt.Errorf("history: encode leaf %d: %w", startIndex+uint64(i), err)
		}
		if err := wtx.Put(storage.TableHistoryTree, leafKey(epoch, startIndex+uint64(i)), raw); err != nil {
			return primitives.Hash{}, 0, err
		}

		if item.Kind == KindTransaction || item.Kind == KindInherent {
			entry := addrIndexEntry(blockNumber, item.IdentityHash())
			for _, addr := range item.addresses() {
				if err := wtx.PutDup(storage.TableAddressIndex, addr.Bytes(), entry); err != nil {
					return primitives.Hash{}, 0, err
				}
			}
		}
	}

	if err := f.savePeaks(wtx, epoch, tree); err != nil {
		return primitives.Hash{}, 0, err
	}
	f.invalidateChunkTree(epoch)
	raw, err := json.Marshal(receipt)
	if err != nil {
		return primitives.Hash{}, 0, fmt.Errorf("history: encode block %d receipt: %w", blockNumber, err)
	}
	if err := wtx.Put(storage.TableHistoryReceipts, blockKey(blockNumber), raw); err != nil {
		return primitives.Hash{}, 0, err
	}
	return tree.Root(), tree.NumLeaves(), nil
}

func (f *Full) RemoveBlock(wtx storage.WriteTransaction, blockNumber uint32) error {
	raw, err := wtx.Get(storage.TableHistoryReceipts, blockKey(blockNumber))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: block %d", ErrNoReceipt, blockNumber)
	}
	if err != nil {
		return fmt.Errorf("history: load block %d receipt: %w", blockNumber, err)
	}
	var receipt blockReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return fmt.Errorf("history: decode block %d receipt: %w", blockNumber, err)
	}

	for i := uint64(0); i < receipt.LeavesAdded; i++ {
		idx := receipt.PrevNumLeaves + i
		key := leafKey(receipt.Epoch, idx)
		leafRaw, err := wtx.Get(storage.TableHistoryTree, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("history: load leaf %d for removal: %w", idx, err)
		}
		if err == nil {
			var item HistoricTransaction
			if jsonErr := json.Unmarshal(leafRaw, &item); jsonErr == nil && (item.Kind == KindTransaction || item.Kind == KindInherent) {
				entry := addrIndexEntry(blockNumber, item.IdentityHash())
				for _, addr := range item.addresses() {
					if err := wtx.DeleteDup(storage.TableAddressIndex, addr.Bytes(), entry); err != nil {
						return err
					}
				}
			}
		}
		if err := wtx.Delete(storage.TableHistoryTree, key); err != nil {
			return err
		}
	}

	state := peaksState{NumLeaves: receipt.PrevNumLeaves, Peaks: receipt.PrevPeaks}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("history: encode epoch %d peaks: %w", receipt.Epoch, err)
	}
	if err := wtx.Put(storage.TableHistoryMeta, epochKey(receipt.Epoch), encoded); err != nil {
		return err
	}
	f.invalidateChunkTree(receipt.Epoch)
	return wtx.Delete(storage.TableHistoryReceipts, blockKey(blockNumber))
}

// invalidateChunkTree drops the cached chunk-proving tree if it was built
// over epoch, since AddBlock/RemoveBlock just changed that epoch's leaves.
func (f *Full) invalidateChunkTree(epoch uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkTree != nil && f.chunkTreeEpoch == epoch {
		f.chunkTree = nil
	}
}

func (f *Full) Root(rtx storage.ReadTransaction, epoch uint32) (primitives.Hash, error) {
	tree, err := f.loadPeaks(rtx, epoch)
	if err != nil {
		return primitives.Hash{}, err
	}
	return tree.Root(), nil
}

func (f *Full) TotalLenAtEpoch(rtx storage.ReadTransaction, epoch uint32) (uint64, error) {
	tree, err := f.loadPeaks(rtx, epoch)
	if err != nil {
		return 0, err
	}
	return tree.NumLeaves(), nil
}

func (f *Full) loadLeaf(rtx storage.ReadTransaction, epoch uint32, index uint64) (HistoricTransaction, error) {
	raw, err := rtx.Get(storage.TableHistoryTree, leafKey(epoch, index))
	if err != nil {
		return HistoricTransaction{}, fmt.Errorf("history: load leaf %d of epoch %d: %w", index, epoch, err)
	}
	var item HistoricTransaction
	if err := json.Unmarshal(raw, &item); err != nil {
		return HistoricTransaction{}, fmt.Errorf("history: decode leaf %d of epoch %d: %w", index, epoch, err)
	}
	return item, nil
}

func (f *Full) GetBlockTransactions(rtx storage.ReadTransaction, blockNumber uint32) ([]HistoricTransaction, error) {
	raw, err := rtx.Get(storage.TableHistoryReceipts, blockKey(blockNumber))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: block %d", ErrNoReceipt, blockNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("history: load block %d receipt: %w", blockNumber, err)
	}
	var receipt blockReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("history: decode block %d receipt: %w", blockNumber, err)
	}

	out := make([]HistoricTransaction, 0, receipt.LeavesAdded)
	for i := uint64(0); i < receipt.LeavesAdded; i++ {
		item, err := f.loadLeaf(rtx, receipt.Epoch, receipt.PrevNumLeaves+i)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func (f *Full) GetTxHashesByAddress(rtx storage.ReadTransaction, addr primitives.Address, max uint16) ([]primitives.Hash, error) {
	entries, err := rtx.GetDup(storage.TableAddressIndex, addr.Bytes())
	if err != nil {
		return nil, fmt.Errorf("history: address index lookup: %w", err)
	}
	if uint16(len(entries)) > max && max > 0 {
		entries = entries[len(entries)-int(max):]
	}
	out := make([]primitives.Hash, 0, len(entries))
	for _, raw := range entries {
		if _, hash, ok := decodeAddrIndexEntry(raw); ok {
			out = append(out, hash)
		}
	}
	return out, nil
}

func (f *Full) ProveChunk(rtx storage.ReadTransaction, epoch uint32, verifierLeaves uint64, chunkSize, chunkIndex int) (*Chunk, error) {
	if chunkSize <= 0 || chunkIndex < 0 {
		return nil, fmt.Errorf("%w: chunkSize=%d chunkIndex=%d", ErrChunkOutOfRange, chunkSize, chunkIndex)
	}

	total, err := f.TotalLenAtEpoch(rtx, epoch)
	if err != nil {
		return nil, err
	}
	if verifierLeaves > total {
		return nil, fmt.Errorf("%w: verifier claims %d leaves, epoch has %d", ErrChunkOutOfRange, verifierLeaves, total)
	}

	start := uint64(chunkIndex) * uint64(chunkSize)
	if start >= verifierLeaves {
		return nil, fmt.Errorf("%w: chunk %d starts at %d, verifier only knows %d leaves", ErrChunkOutOfRange, chunkIndex, start, verifierLeaves)
	}
	end := start + uint64(chunkSize)
	if end > verifierLeaves {
		end = verifierLeaves
	}

	tree, items, serializedSize, err := f.chunkTreeFor(rtx, epoch, verifierLeaves, start, end)
	if err != nil {
		return nil, err
	}
	if serializedSize > policy.HistoryChunksMaxSize {
		return nil, fmt.Errorf("%w: chunk serializes to %d bytes, over the %d byte bound", ErrChunkOutOfRange, serializedSize, policy.HistoryChunksMaxSize)
	}

	proof, err := tree.ProveRange(start, end)
	if err != nil {
		return nil, fmt.Errorf("history: build range proof: %w", err)
	}

	return &Chunk{Epoch: epoch, StartIndex: start, Items: items, RangeProof: *proof}, nil
}

// chunkTreeFor returns the MMR built over epoch's first verifierLeaves
// leaves, reusing f.chunkTree when a prior call already built exactly
// that tree — the common case when a peer pulls every chunk of a stream
// at a fixed verifierLeaves back to back.
func (f *Full) chunkTreeFor(rtx storage.ReadTransaction, epoch uint32, verifierLeaves, start, end uint64) (*mmr.Full, []HistoricTransaction, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.chunkTree == nil || f.chunkTreeEpoch != epoch || f.chunkTreeLen != verifierLeaves {
		tree := mmr.NewFull()
		for i := uint64(0); i < verifierLeaves; i++ {
			item, err := f.loadLeaf(rtx, epoch, i)
			if err != nil {
				return nil, nil, 0, err
			}
			tree.Push(item.SerializeContent())
		}
		f.chunkTree = tree
		f.chunkTreeEpoch = epoch
		f.chunkTreeLen = verifierLeaves
	}

	items := make([]HistoricTransaction, 0, end-start)
	var serializedSize uint64
	for i := start; i < end; i++ {
		item, err := f.loadLeaf(rtx, epoch, i)
		if err != nil {
			return nil, nil, 0, err
		}
		items = append(items, item)
		serializedSize += uint64(len(item.SerializeContent()))
	}
	return f.chunkTree, items, serializedSize, nil
}

var _ Store = (*Full)(nil)
