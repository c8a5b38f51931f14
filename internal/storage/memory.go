package storage

import (
	"sort"
	"sync"
)

// Memory is an in-memory Database, used by unit tests across the module in
// place of CometDB — the same role the teacher's and original's in-memory
// database implementations play in their own test suites.
type Memory struct {
	mu        sync.Mutex
	data      map[string][]byte
	writeOpen bool
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) NewReadTransaction() (ReadTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	return &memReadTx{snapshot: snapshot}, nil
}

func (m *Memory) NewWriteTransaction() (WriteTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeOpen {
		return nil, ErrWriteTransactionOpen
	}
	m.writeOpen = true
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	return &memWriteTx{
		memReadTx: memReadTx{snapshot: snapshot},
		owner:     m,
		puts:      make(map[string][]byte),
		deletes:   make(map[string]struct{}),
	}, nil
}

func (m *Memory) Close() error { return nil }

type memReadTx struct {
	snapshot map[string][]byte
	closed   bool
}

func (t *memReadTx) Get(table Table, key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	v, ok := t.snapshot[string(tableKey(table, key))]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memReadTx) GetDup(table Table, key []byte) ([][]byte, error) {
	if t.closed {
		return nil, ErrTransactionClosed
	}
	prefix := string(dupPrefix(table, key))
	var keys []string
	for k := range t.snapshot {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([][]byte, 0, len(keys))
	for _, k := range keys {
		out = append(out, t.snapshot[k])
	}
	return out, nil
}

func (t *memReadTx) Iterate(table Table, start, end []byte, fn func(key, value []byte) bool) error {
	if t.closed {
		return ErrTransactionClosed
	}
	prefix := string(table) + string(rune(keySeparator))
	var keys []string
	for k := range t.snapshot {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		suffix := []byte(k[len(prefix):])
		if start != nil && string(suffix) < string(start) {
			continue
		}
		if end != nil && string(suffix) >= string(end) {
			continue
		}
		if !fn(suffix, t.snapshot[k]) {
			break
		}
	}
	return nil
}

func (t *memReadTx) Close() { t.closed = true }

type memWriteTx struct {
	memReadTx
	owner   *Memory
	puts    map[string][]byte
	deletes map[string]struct{}
	done    bool
}

func (t *memWriteTx) Get(table Table, key []byte) ([]byte, error) {
	k := string(tableKey(table, key))
	if _, deleted := t.deletes[k]; deleted {
		return nil, ErrNotFound
	}
	if v, ok := t.puts[k]; ok {
		return v, nil
	}
	return t.memReadTx.Get(table, key)
}

func (t *memWriteTx) Put(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(tableKey(table, key))
	delete(t.deletes, k)
	t.puts[k] = append([]byte(nil), value...)
	return nil
}

func (t *memWriteTx) Delete(table Table, key []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(tableKey(table, key))
	delete(t.puts, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memWriteTx) PutDup(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(dupKey(table, key, value))
	delete(t.deletes, k)
	t.puts[k] = append([]byte(nil), value...)
	return nil
}

func (t *memWriteTx) DeleteDup(table Table, key, value []byte) error {
	if t.done {
		return ErrTransactionClosed
	}
	k := string(dupKey(table, key, value))
	delete(t.puts, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memWriteTx) Commit() error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	defer t.release()

	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	for k := range t.deletes {
		delete(t.owner.data, k)
	}
	for k, v := range t.puts {
		t.owner.data[k] = v
	}
	return nil
}

func (t *memWriteTx) Abort() error {
	if t.done {
		return ErrTransactionClosed
	}
	t.done = true
	t.release()
	return nil
}

func (t *memWriteTx) release() {
	t.owner.mu.Lock()
	t.owner.writeOpen = false
	t.owner.mu.Unlock()
}
