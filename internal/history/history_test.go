package history

import (
	"errors"
	"testing"

	"github.com/albatross-go/node/internal/mmr"
	"github.com/albatross-go/node/internal/primitives"
	"github.com/albatross-go/node/internal/storage"
)

func testAddress(b byte) primitives.Address {
	var a primitives.Address
	a[primitives.AddressSize-1] = b
	return a
}

func testItems(n int) []HistoricTransaction {
	out := make([]HistoricTransaction, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, HistoricTransaction{
			NetworkID:   primitives.NetworkTestAlbatross,
			BlockNumber: 1,
			BlockTime:   1000,
			Kind:        KindTransaction,
			Transaction: primitives.Transaction{
				Sender:              testAddress(byte(i + 1)),
				Recipient:           testAddress(byte(i + 100)),
				Value:               uint64(i + 1),
				Fee:                 1,
				ValidityStartHeight: 1,
				Network:             primitives.NetworkTestAlbatross,
			},
			Executed: true,
		})
	}
	return out
}

func withWrite(t *testing.T, db *storage.Memory, fn func(storage.WriteTransaction) error) {
	t.Helper()
	wtx, err := db.NewWriteTransaction()
	if err != nil {
		t.Fatalf("NewWriteTransaction: %v", err)
	}
	if err := fn(wtx); err != nil {
		wtx.Abort()
		t.Fatalf("write transaction: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func withRead[T any](t *testing.T, db *storage.Memory, fn func(storage.ReadTransaction) (T, error)) T {
	t.Helper()
	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	v, err := fn(rtx)
	if err != nil {
		t.Fatalf("read transaction: %v", err)
	}
	return v
}

func TestLightAndFullAgreeOnRoot(t *testing.T) {
	lightDB := storage.NewMemory()
	fullDB := storage.NewMemory()
	light := NewLight()
	full := NewFull()

	items := testItems(3)

	var lightRoot, fullRoot primitives.Hash
	withWrite(t, lightDB, func(wtx storage.WriteTransaction) error {
		r, _, err := light.AddBlock(wtx, 0, 1, items)
		lightRoot = r
		return err
	})
	withWrite(t, fullDB, func(wtx storage.WriteTransaction) error {
		r, _, err := full.AddBlock(wtx, 0, 1, items)
		fullRoot = r
		return err
	})

	if lightRoot != fullRoot {
		t.Fatalf("light root %s != full root %s", lightRoot, fullRoot)
	}

	lightLen := withRead(t, lightDB, func(rtx storage.ReadTransaction) (uint64, error) {
		return light.TotalLenAtEpoch(rtx, 0)
	})
	fullLen := withRead(t, fullDB, func(rtx storage.ReadTransaction) (uint64, error) {
		return full.TotalLenAtEpoch(rtx, 0)
	})
	if lightLen != fullLen || lightLen != 3 {
		t.Fatalf("lightLen=%d fullLen=%d, want 3", lightLen, fullLen)
	}
}

func TestLightRemoveBlockRestoresEmptyRoot(t *testing.T) {
	db := storage.NewMemory()
	light := NewLight()
	items := testItems(2)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := light.AddBlock(wtx, 0, 1, items)
		return err
	})
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return light.RemoveBlock(wtx, 1)
	})

	root := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return light.Root(rtx, 0)
	})
	if root != mmr.EmptyRoot() {
		t.Fatalf("Root after removing only block = %s, want empty root %s", root, mmr.EmptyRoot())
	}
}

func TestLightUnsupportedQueriesDecline(t *testing.T) {
	db := storage.NewMemory()
	light := NewLight()
	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()

	if _, err := light.GetBlockTransactions(rtx, 1); !errors.Is(err, ErrNotSupportedByLightStore) {
		t.Errorf("GetBlockTransactions error = %v, want ErrNotSupportedByLightStore", err)
	}
	if _, err := light.GetTxHashesByAddress(rtx, testAddress(1), 10); !errors.Is(err, ErrNotSupportedByLightStore) {
		t.Errorf("GetTxHashesByAddress error = %v, want ErrNotSupportedByLightStore", err)
	}
	if _, err := light.ProveChunk(rtx, 0, 1, 1, 0); !errors.Is(err, ErrNotSupportedByLightStore) {
		t.Errorf("ProveChunk error = %v, want ErrNotSupportedByLightStore", err)
	}
}

func TestFullGetBlockTransactionsRoundTrip(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items := testItems(4)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 7, items)
		return err
	})

	got := withRead(t, db, func(rtx storage.ReadTransaction) ([]HistoricTransaction, error) {
		return full.GetBlockTransactions(rtx, 7)
	})
	if len(got) != len(items) {
		t.Fatalf("GetBlockTransactions returned %d items, want %d", len(got), len(items))
	}
	for i := range items {
		if got[i].Transaction.Value != items[i].Transaction.Value {
			t.Errorf("item %d Value = %d, want %d", i, got[i].Transaction.Value, items[i].Transaction.Value)
		}
	}
}

func TestFullAddressIndexFindsBothSenderAndRecipient(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items := testItems(1)
	sender := items[0].Transaction.Sender
	recipient := items[0].Transaction.Recipient

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 1, items)
		return err
	})

	senderHashes := withRead(t, db, func(rtx storage.ReadTransaction) ([]primitives.Hash, error) {
		return full.GetTxHashesByAddress(rtx, sender, 0)
	})
	recipientHashes := withRead(t, db, func(rtx storage.ReadTransaction) ([]primitives.Hash, error) {
		return full.GetTxHashesByAddress(rtx, recipient, 0)
	})
	if len(senderHashes) != 1 || len(recipientHashes) != 1 {
		t.Fatalf("sender hashes=%d recipient hashes=%d, want 1 each", len(senderHashes), len(recipientHashes))
	}
	if senderHashes[0] != items[0].TxHash() || recipientHashes[0] != items[0].TxHash() {
		t.Fatalf("indexed hash does not match the transaction's own hash")
	}
}

func TestFullRemoveBlockUndoesAddressIndex(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items := testItems(1)
	sender := items[0].Transaction.Sender

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 1, items)
		return err
	})
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return full.RemoveBlock(wtx, 1)
	})

	hashes := withRead(t, db, func(rtx storage.ReadTransaction) ([]primitives.Hash, error) {
		return full.GetTxHashesByAddress(rtx, sender, 0)
	})
	if len(hashes) != 0 {
		t.Fatalf("GetTxHashesByAddress after removal = %d hashes, want 0", len(hashes))
	}

	root := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return full.Root(rtx, 0)
	})
	if root != mmr.EmptyRoot() {
		t.Fatalf("Root after removing only block = %s, want empty root", root)
	}
}

func TestFullRemoveBlockLeavesOtherEpochsUntouched(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items1 := testItems(2)
	items2 := testItems(3)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 1, items1)
		return err
	})
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 1, 2, items2)
		return err
	})

	epoch1RootBefore := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return full.Root(rtx, 1)
	})

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return full.RemoveBlock(wtx, 1)
	})

	epoch0Root := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return full.Root(rtx, 0)
	})
	epoch1RootAfter := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return full.Root(rtx, 1)
	})

	if epoch0Root != mmr.EmptyRoot() {
		t.Fatalf("epoch 0 root after removing its only block = %s, want empty", epoch0Root)
	}
	if epoch1RootAfter != epoch1RootBefore {
		t.Fatalf("epoch 1 root changed from %s to %s after removing an unrelated block", epoch1RootBefore, epoch1RootAfter)
	}
}

func TestFullProveChunkRoundTrip(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items := testItems(10)

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 1, items)
		return err
	})

	root := withRead(t, db, func(rtx storage.ReadTransaction) (primitives.Hash, error) {
		return full.Root(rtx, 0)
	})

	chunk := withRead(t, db, func(rtx storage.ReadTransaction) (*Chunk, error) {
		return full.ProveChunk(rtx, 0, 10, 4, 1)
	})
	if chunk.StartIndex != 4 || len(chunk.Items) != 4 {
		t.Fatalf("chunk start=%d items=%d, want start=4 items=4", chunk.StartIndex, len(chunk.Items))
	}
	if chunk.RangeProof.TotalLeaves != 10 {
		t.Fatalf("chunk proof TotalLeaves = %d, want 10", chunk.RangeProof.TotalLeaves)
	}
	if err := VerifyChunk(root, *chunk); err != nil {
		t.Fatalf("VerifyChunk: %v", err)
	}

	chunk.Items[0].Transaction.Value++
	if err := VerifyChunk(root, *chunk); err == nil {
		t.Fatalf("expected VerifyChunk to reject a tampered item")
	}
}

func TestFullProveChunkRejectsOutOfRange(t *testing.T) {
	db := storage.NewMemory()
	full := NewFull()
	items := testItems(3)
	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		_, _, err := full.AddBlock(wtx, 0, 1, items)
		return err
	})

	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	if _, err := full.ProveChunk(rtx, 0, 3, 10, 5); !errors.Is(err, ErrChunkOutOfRange) {
		t.Errorf("ProveChunk out-of-range error = %v, want ErrChunkOutOfRange", err)
	}
}

func TestValidityStoreAddContainsRemove(t *testing.T) {
	db := storage.NewMemory()
	vs := NewValidityStore()
	txHash := primitives.Hash{1, 2, 3}

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return vs.Add(wtx, txHash, 100)
	})

	present := withRead(t, db, func(rtx storage.ReadTransaction) (bool, error) {
		return vs.Contains(rtx, txHash)
	})
	if !present {
		t.Fatal("Contains = false right after Add, want true")
	}

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return vs.Remove(wtx, txHash, 100)
	})
	present = withRead(t, db, func(rtx storage.ReadTransaction) (bool, error) {
		return vs.Contains(rtx, txHash)
	})
	if present {
		t.Fatal("Contains = true after Remove, want false")
	}
}

func TestValidityStorePruneRemovesOnlyExpiredEntries(t *testing.T) {
	db := storage.NewMemory()
	vs := NewValidityStore()
	oldHash := primitives.Hash{1}
	recentHash := primitives.Hash{2}

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		if err := vs.Add(wtx, oldHash, 1); err != nil {
			return err
		}
		return vs.Add(wtx, recentHash, 95)
	})

	withWrite(t, db, func(wtx storage.WriteTransaction) error {
		return vs.Prune(wtx, 100, 10)
	})

	oldPresent := withRead(t, db, func(rtx storage.ReadTransaction) (bool, error) {
		return vs.Contains(rtx, oldHash)
	})
	recentPresent := withRead(t, db, func(rtx storage.ReadTransaction) (bool, error) {
		return vs.Contains(rtx, recentHash)
	})
	if oldPresent {
		t.Error("Contains(oldHash) = true after Prune, want false (entry is older than the window)")
	}
	if !recentPresent {
		t.Error("Contains(recentHash) = false after Prune, want true (entry is within the window)")
	}
}
