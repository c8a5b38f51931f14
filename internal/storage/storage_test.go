package storage

import (
	"errors"
	"testing"
)

func TestMemoryPutGetCommit(t *testing.T) {
	db := NewMemory()
	wtx, err := db.NewWriteTransaction()
	if err != nil {
		t.Fatalf("NewWriteTransaction: %v", err)
	}
	if err := wtx.Put(TableAccounts, []byte("alice"), []byte("balance=100")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, err := db.NewReadTransaction()
	if err != nil {
		t.Fatalf("NewReadTransaction: %v", err)
	}
	defer rtx.Close()
	v, err := rtx.Get(TableAccounts, []byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "balance=100" {
		t.Fatalf("Get = %q, want %q", v, "balance=100")
	}
}

func TestMemoryGetMissingReturnsErrNotFound(t *testing.T) {
	db := NewMemory()
	rtx, _ := db.NewReadTransaction()
	defer rtx.Close()
	_, err := rtx.Get(TableAccounts, []byte("nobody"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestOnlyOneWriteTransactionAtATime(t *testing.T) {
	db := NewMemory()
	wtx, err := db.NewWriteTransaction()
	if err != nil {
		t.Fatalf("NewWriteTransaction: %v", err)
	}
	if _, err := db.NewWriteTransaction(); !errors.Is(err, ErrWriteTransactionOpen) {
		t.Fatalf("second NewWriteTransaction error = %v, want ErrWriteTransactionOpen", err)
	}
	if err := wtx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if _, err := db.NewWriteTransaction(); err != nil {
		t.Fatalf("NewWriteTransaction after Abort: %v", err)
	}
}

func TestWriteTransactionReadsItsOwnWrites(t *testing.T) {
	db := NewMemory()
	wtx, _ := db.NewWriteTransaction()
	defer wtx.Abort()

	wtx.Put(TableAccounts, []byte("bob"), []byte("v1"))
	v, err := wtx.Get(TableAccounts, []byte("bob"))
	if err != nil {
		t.Fatalf("Get within open write tx: %v", err)
	}
	if string(v) != "v1" {
		t.Fatalf("Get = %q, want v1", v)
	}
}

func TestDupTableStoresMultipleValuesPerKey(t *testing.T) {
	db := NewMemory()
	wtx, _ := db.NewWriteTransaction()
	wtx.PutDup(TableAddressIndex, []byte("addr1"), []byte("tx-a"))
	wtx.PutDup(TableAddressIndex, []byte("addr1"), []byte("tx-b"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, _ := db.NewReadTransaction()
	defer rtx.Close()
	values, err := rtx.GetDup(TableAddressIndex, []byte("addr1"))
	if err != nil {
		t.Fatalf("GetDup: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("GetDup returned %d values, want 2", len(values))
	}
}

func TestAbortDiscardsBufferedWrites(t *testing.T) {
	db := NewMemory()
	wtx, _ := db.NewWriteTransaction()
	wtx.Put(TableAccounts, []byte("carol"), []byte("v1"))
	if err := wtx.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	rtx, _ := db.NewReadTransaction()
	defer rtx.Close()
	if _, err := rtx.Get(TableAccounts, []byte("carol")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after Abort error = %v, want ErrNotFound", err)
	}
}

func TestIterateRespectsTableBoundary(t *testing.T) {
	db := NewMemory()
	wtx, _ := db.NewWriteTransaction()
	wtx.Put(TableAccounts, []byte("a"), []byte("1"))
	wtx.Put(TableAccounts, []byte("b"), []byte("2"))
	wtx.Put(TableChainInfo, []byte("a"), []byte("other-table"))
	if err := wtx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	rtx, _ := db.NewReadTransaction()
	defer rtx.Close()
	var keys []string
	err := rtx.Iterate(TableAccounts, nil, nil, func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Iterate: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Iterate over TableAccounts returned %d keys, want 2", len(keys))
	}
}
