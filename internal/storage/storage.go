// Package storage implements the transactional key-value contract every
// other persistence-needing component (chain store, history engine,
// accounts trie) is built on: named tables, regular key/value entries, and
// duplicate-key ("dup") tables where several values share a primary key.
// Exactly one write transaction may be open at a time; read transactions
// may run concurrently with it, mirroring the teacher's
// pkg/kvdb.KVAdapter/pkg/ledger.LedgerStore single-writer convention.
package storage

import "errors"

var (
	// ErrNotFound is returned by Get when the key has no entry. Callers
	// that treat "missing" as a valid outcome should check with
	// errors.Is(err, ErrNotFound) rather than comparing to a nil value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrWriteTransactionOpen is returned by NewWriteTransaction while
	// another write transaction has not yet been committed or aborted.
	ErrWriteTransactionOpen = errors.New("storage: a write transaction is already open")

	// ErrTransactionClosed is returned by any operation on a transaction
	// after Commit/Abort/Close has already run.
	ErrTransactionClosed = errors.New("storage: transaction already closed")
)

// Table names the persisted regions this module uses. Declaring them as a
// closed set (rather than free-form strings) catches typos at compile
// time and documents the full persisted layout in one place.
type Table string

const (
	TableChainInfo        Table = "chain-info"
	TableBlockHeightIndex Table = "block-height-index"
	TableAccounts         Table = "accounts"
	TableAccountsTree     Table = "accounts-tree"
	TableAccountsReceipts Table = "accounts-receipts"
	TableHistoryTree      Table = "history-tree"
	TableHistoryMeta      Table = "history-meta"
	TableHistoryValidity  Table = "history-validity"
	TableHistoryReceipts  Table = "history-receipts"
	TableAddressIndex     Table = "address-index"
	TableStakingContract  Table = "staking-contract"
	TableValidatorSets    Table = "validator-sets"
	TableZKPState         Table = "zkp-state"
)

// Database opens transactions over the underlying engine. Implementations:
// CometDB (production, backed by cometbft-db) and Memory (tests).
type Database interface {
	NewReadTransaction() (ReadTransaction, error)
	// NewWriteTransaction fails with ErrWriteTransactionOpen if a write
	// transaction is already outstanding, enforcing the single-writer
	// invariant at the storage layer itself rather than trusting every
	// caller to respect chain.Guard.
	NewWriteTransaction() (WriteTransaction, error)
	Close() error
}

// ReadTransaction is a point-in-time read view.
type ReadTransaction interface {
	Get(table Table, key []byte) ([]byte, error)
	// GetDup returns every value stored under key in a dup table, in
	// ascending byte order of the values (not insertion order).
	GetDup(table Table, key []byte) ([][]byte, error)
	// Iterate walks all regular-table entries with keys in [start, end)
	// (end == nil means unbounded), calling fn for each until it returns
	// false or the range is exhausted.
	Iterate(table Table, start, end []byte, fn func(key, value []byte) bool) error
	Close()
}

// WriteTransaction extends ReadTransaction with mutation, buffered until
// Commit applies it atomically.
type WriteTransaction interface {
	ReadTransaction
	Put(table Table, key, value []byte) error
	Delete(table Table, key []byte) error
	PutDup(table Table, key, value []byte) error
	DeleteDup(table Table, key, value []byte) error
	Commit() error
	Abort() error
}
