package history

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

// ValidityStore tracks which transaction hashes have been included in a
// block within the current validity window, so a new transaction with the
// same hash can be rejected as a replay in O(1) rather than scanning
// recent blocks. Entries older than the window are removed only by an
// explicit Prune call; Add does not prune, and no code outside the tests
// calls Prune.
type ValidityStore struct{}

// NewValidityStore creates an empty validity store.
func NewValidityStore() *ValidityStore { return &ValidityStore{} }

// Contains reports whether txHash has been recorded and not yet pruned.
func (v *ValidityStore) Contains(rtx storage.ReadTransaction, txHash primitives.Hash) (bool, error) {
	_, err := rtx.Get(storage.TableHistoryValidity, txHash[:])
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("history: validity lookup: %w", err)
	}
	return true, nil
}

// Add records txHash as included at blockHeight. It also indexes the
// entry by height (a dup-table entry keyed on height) so Prune can find
// and remove expired entries without scanning every hash.
func (v *ValidityStore) Add(wtx storage.WriteTransaction, txHash primitives.Hash, blockHeight uint32) error {
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], blockHeight)

	if err := wtx.Put(storage.TableHistoryValidity, txHash[:], heightBytes[:]); err != nil {
		return fmt.Errorf("history: validity put: %w", err)
	}
	if err := wtx.PutDup(storage.TableHistoryValidity, heightBytes[:], txHash[:]); err != nil {
		return fmt.Errorf("history: validity height index put: %w", err)
	}
	return nil
}

// Remove undoes a prior Add for txHash at blockHeight — used when
// reverting a block during a chain rebranch.
func (v *ValidityStore) Remove(wtx storage.WriteTransaction, txHash primitives.Hash, blockHeight uint32) error {
	var heightBytes [4]byte
	binary.BigEndian.PutUint32(heightBytes[:], blockHeight)

	if err := wtx.Delete(storage.TableHistoryValidity, txHash[:]); err != nil {
		return fmt.Errorf("history: validity delete: %w", err)
	}
	return wtx.DeleteDup(storage.TableHistoryValidity, heightBytes[:], txHash[:])
}

// Prune removes every entry recorded at a height older than
// currentHeight-window (entries whose transaction could no longer be
// validly included anywhere, so no future block can need the replay
// check against them).
func (v *ValidityStore) Prune(wtx storage.WriteTransaction, currentHeight, window uint32) error {
	if currentHeight <= window {
		return nil
	}
	cutoff := currentHeight - window

	for h := uint32(0); h < cutoff; h++ {
		var heightBytes [4]byte
		binary.BigEndian.PutUint32(heightBytes[:], h)
		hashes, err := wtx.GetDup(storage.TableHistoryValidity, heightBytes[:])
		if err != nil {
			return fmt.Errorf("history: prune lookup at height %d: %w", h, err)
		}
		for _, raw := range hashes {
			if len(raw) != primitives.HashSize {
				continue
			}
			var txHash primitives.Hash
			copy(txHash[:], raw)
			if err := wtx.Delete(storage.TableHistoryValidity, txHash[:]); err != nil {
				return fmt.Errorf("history: prune delete at height %d: %w", h, err)
			}
			if err := wtx.DeleteDup(storage.TableHistoryValidity, heightBytes[:], txHash[:]); err != nil {
				return fmt.Errorf("history: prune dup delete at height %d: %w", h, err)
			}
		}
	}
	return nil
}
