package history

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/mmr"
	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// Light is the peaks-only history engine a light node persists: it can
// push new leaves, answer a trustworthy root and leaf count, and undo the
// leaves a single block added, but it never retains leaf data, so it
// cannot answer any query that needs a past leaf back.
type Light struct{}

// NewLight creates a peaks-only history engine.
func NewLight() *Light { return &Light{} }

func (l *Light) loadPeaks(rtx storage.ReadTransaction, epoch uint32) (*mmr.Peaks, error) {
	raw, err := rtx.Get(storage.TableHistoryTree, epochKey(epoch))
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

func (l *Light) savePeaks(wtx storage.WriteTransaction, epoch uint32, tree *mmr.Peaks) error {
	state := peaksState{NumLeaves: tree.NumLeaves(), Peaks: tree.PeakHashes()}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("history: encode epoch %d peaks: %w", epoch, err)
	}
	return wtx.Put(storage.TableHistoryTree, epochKey(epoch), raw)
}

func (l *Light) AddBlock(wtx storage.WriteTransaction, epoch uint32, blockNumber uint32, items []HistoricTransaction) (primitives.Hash, uint64, error) {
	tree, err := l.loadPeaks(wtx, epoch)
	if err != nil {
		return primitives.Hash{}, 0, err
	}
	receipt := blockReceipt{
		Epoch:         epoch,
		LeavesAdded:   uint64(len(items)),
		PrevNumLeaves: tree.NumLeaves(),
		PrevPeaks:     tree.PeakHashes(),
	}

	for _, item := range items {
		tree.Push(item.SerializeContent())
	}

	if err := l.savePeaks(wtx, epoch, tree); err != nil {
		return primitives.Hash{}, 0, err
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		return primitives.Hash{}, 0, fmt.Errorf("history: encode block %d receipt: %w", blockNumber, err)
	}
	if err := wtx.Put(storage.TableHistoryReceipts, blockKey(blockNumber), raw); err != nil {
		return primitives.Hash{}, 0, err
	}
	return tree.Root(), tree.NumLeaves(), nil
}

func (l *Light) RemoveBlock(wtx storage.WriteTransaction, blockNumber uint32) error {
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

	state := peaksState{NumLeaves: receipt.PrevNumLeaves, Peaks: receipt.PrevPeaks}
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("history: encode epoch %d peaks: %w", receipt.Epoch, err)
	}
	if err := wtx.Put(storage.TableHistoryTree, epochKey(receipt.Epoch), encoded); err != nil {
		return err
	}
	return wtx.Delete(storage.TableHistoryReceipts, blockKey(blockNumber))
}

func (l *Light) Root(rtx storage.ReadTransaction, epoch uint32) (primitives.Hash, error) {
	tree, err := l.loadPeaks(rtx, epoch)
	if err != nil {
		return primitives.Hash{}, err
	}
	return tree.Root(), nil
}

func (l *Light) TotalLenAtEpoch(rtx storage.ReadTransaction, epoch uint32) (uint64, error) {
	tree, err := l.loadPeaks(rtx, epoch)
	if err != nil {
		return 0, err
	}
	return tree.NumLeaves(), nil
}

func (l *Light) GetBlockTransactions(storage.ReadTransaction, uint32) ([]HistoricTransaction, error) {
	return nil, ErrNotSupportedByLightStore
}

func (l *Light) GetTxHashesByAddress(storage.ReadTransaction, primitives.Address, uint16) ([]primitives.Hash, error) {
	return nil, ErrNotSupportedByLightStore
}

func (l *Light) ProveChunk(storage.ReadTransaction, uint32, uint64, int, int) (*Chunk, error) {
	return nil, ErrNotSupportedByLightStore
}

var _ Store = (*Light)(nil)
