package storage

import (
	"bytes"
	"fmt"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
)

// keySeparator never appears inside a Table name, so table||sep||key can
// be split back apart unambiguously.
const keySeparator = 0x00

func tableKey(table Table, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, []byte(table)...)
	out = append(out, keySeparator)
	out = append(out, key...)
	return out
}

func dupKey(table Table, key, sub []byte) []byte {
	out := tableKey(table, key)
	out = append(out, keySeparator)
	out = append(out, sub...)
	return out
}

func dupPrefix(table Table, key []byte) []byte {
	out := tableKey(table, key)
	out = append(out, keySeparator)
	return out
}

// prefixUpperBound returns the smallest key that sorts after every key
// beginning with prefix, for use as an iterator's exclusive end bound.
func prefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	// prefix was all 0xff bytes: there is no upper bound.
	return nil
}

// CometDB wraps a cometbft-db dbm.DB as the Database contract, the same
// wrapping pattern as the teacher's pkg/kvdb.KVAdapter, extended with
// table namespacing and dup-key emulation (dbm.DB itself is a flat
// byte-keyed space with no table or duplicate-key concept).
type CometDB struct {
	db dbm.DB
	mu sync.Mutex // serializes write-transaction issuance
	writeOpen bool
}

func NewCometDB(db dbm.DB) *CometDB {
	return &CometDB{db: db}
}

func (c *CometDB) NewReadTransaction() (ReadTransaction, error) {
	return &cometReadTx{db: c.db}, nil
}

func (c *CometDB) NewWriteTransaction() (WriteTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeOpen {
		return nil, ErrWriteTransactionOpen
	}
	c.writeOpen = true
	return &cometWriteTx{
		cometReadTx: cometReadTx{db: c.db},
		owner:       c,
		puts:        make(map[string][]byte),
		deletes:     make(map[string]struct{}),
	}, nil
}

func (c *CometDB) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

type cometReadTx struct {
	db     dbm.DB
	closed bool
}

func (t *cometReadTx) Get(table Table, key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	if t.db == nil {
		return nil, ErrNotFound
	}
	v, err := t.db.Get(tableKey(table, key))
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", table, err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *cometReadTx) GetDup(table Table, key []byte) ([][]byte, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	if t.db == nil {
		return nil, nil
	}
	prefix := dupPrefix(table, key)
	it, err := t.db.Iterator(prefix, prefixUpperBound(prefix))
	if err != nil {
		return nil, fmt.Errorf("storage: iterate dup %s: %w", table, err)
	}
	defer it.Close()

	var out [][]byte
	for ; it.Valid(); it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		out = append(out, v)
	}
	return out, it.Error()
}

func (t *cometReadTx) Iterate(table Table, start, end []byte, fn func(key, value []byte) bool) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if t.db == nil {
		return nil
	}
	prefix := []byte(table)
	prefix = append(prefix, keySeparator)

	var startKey []byte
	if start != nil {
		startKey = tableKey(table, start)
	} else {
		startKey = prefix
	}
	var endKey []byte
	if end != nil {
		endKey = tableKey(table, end)
	} else {
		endKey = prefixUpperBound(prefix)
	}

	it, err := t.db.Iterator(startKey, endKey)
	if err != nil {
		return fmt.Errorf("storage: iterate %s: %w", table, err)
	}
	defer it.Close()

	for ; it.Valid(); it.Next() {
		if !bytes.HasPrefix(it.Key(), prefix) {
			break
		}
		key := make([]byte, len(it.Key())-len(prefix))
		copy(key, it.Key()[len(prefix):])
		value := make([]byte, len(it.Value()))
		copy(value, it.Value())
		if !fn(key, value) {
			break
		}
	}
	return it.Error()
}

func (t *cometReadTx) Close() { t.closed = true }

type cometWriteTx struct {
	cometReadTx
	owner      *CometDB
	puts       map[string][]byte
	deletes    map[string]struct{}
	done       bool
}

// Get, within an open write transaction, sees this transaction's own
// buffered writes layered over the last-committed state. GetDup and
// Iterate intentionally do not: they still read last-committed state only,
// since callers needing read-your-writes over a range should buffer that
// themselves (no component in this module currently needs it).
func (t *cometWriteTx) Get(table Table, key []byte) ([]byte, error) {
	k := string(tableKey(table, key))
	if _, deleted := t.deletes[k]; deleted {
		return nil, ErrNotFound
	}
	if v, ok := t.puts[k]; ok {
		return v, nil
	}
	return t.cometReadTx.Get(table, key)
}

func (t *cometWriteTx) Put(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(tableKey(table, key))
	delete(t.deletes, k)
	t.puts[k] = append([]byte(nil), value...)
	return nil
}

func (t *cometWriteTx) Delete(table Table, key []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(tableKey(table, key))
	delete(t.puts, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *cometWriteTx) PutDup(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(dupKey(table, key, value))
	t.puts[k] = append([]byte(nil), value...)
	delete(t.deletes, k)
	return nil
}

func (t *cometWriteTx) DeleteDup(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(dupKey(table, key, value))
	delete(t.puts, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *cometWriteTx) Commit() error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	defer t.release()

	if t.db == nil {
		return nil
	}
	batch := t.db.NewBatch()
	defer batch.Close()

	for k := range t.deletes {
		if err := batch.Delete([]byte(k)); err != nil {
			return fmt.Errorf("storage: batch delete: %w", err)
		}
	}
	for k, v := range t.puts {
		if err := batch.Set([]byte(k), v); err != nil {
			return fmt.Errorf("storage: batch set: %w", err)
		}
	}
	return batch.WriteSync()
}

func (t *cometWriteTx) Abort() error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *cometWriteTx) release() {
	t.owner.mu.Lock()
	t.owner.writeOpen = false
	t.owner.mu.Unlock()
}
