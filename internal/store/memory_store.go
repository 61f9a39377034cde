package store

import (
	"context"
	"sync"

	"github.com/mbd888/pullpay/internal/record"
)

// MemoryStore is an in-memory record store for tests and demo mode.
// It holds records in their encoded form so reads exercise the same
// codec path as the durable backends.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Address][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Address][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, addr Address) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return getFrom(m.records, addr)
}

func (m *MemoryStore) Create(_ context.Context, addr Address, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[addr]; ok {
		return ErrAlreadyExists
	}
	return putInto(m.records, addr, rec)
}

func (m *MemoryStore) Put(_ context.Context, addr Address, rec record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return putInto(m.records, addr, rec)
}

func (m *MemoryStore) Delete(_ context.Context, addr Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[addr]; !ok {
		return ErrNotFound
	}
	delete(m.records, addr)
	return nil
}

// WithinTx runs fn under the store mutex against a write-buffering view.
// Holding the mutex for the whole unit serializes concurrent transactions,
// the guarantee debits rely on; contention is acceptable for the in-memory
// backend's use cases.
func (m *MemoryStore) WithinTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		base:    m.records,
		writes:  make(map[Address][]byte),
		deletes: make(map[Address]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	// Commit the buffered writes.
	for addr, data := range tx.writes {
		m.records[addr] = data
	}
	for addr := range tx.deletes {
		delete(m.records, addr)
	}
	return nil
}

var _ TxStore = (*MemoryStore)(nil)

// memoryTx overlays buffered writes on the base map. Only valid while the
// parent store's mutex is held.
type memoryTx struct {
	base    map[Address][]byte
	writes  map[Address][]byte
	deletes map[Address]bool
}

func (t *memoryTx) lookup(addr Address) ([]byte, bool) {
	if t.deletes[addr] {
		return nil, false
	}
	if data, ok := t.writes[addr]; ok {
		return data, true
	}
	data, ok := t.base[addr]
	return data, ok
}

func (t *memoryTx) Get(_ context.Context, addr Address) (record.Record, error) {
	data, ok := t.lookup(addr)
	if !ok {
		return nil, ErrNotFound
	}
	return record.Unmarshal(data)
}

func (t *memoryTx) Create(_ context.Context, addr Address, rec record.Record) error {
	if _, ok := t.lookup(addr); ok {
		return ErrAlreadyExists
	}
	return t.write(addr, rec)
}

func (t *memoryTx) Put(_ context.Context, addr Address, rec record.Record) error {
	return t.write(addr, rec)
}

func (t *memoryTx) write(addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	delete(t.deletes, addr)
	t.writes[addr] = data
	return nil
}

func (t *memoryTx) Delete(_ context.Context, addr Address) error {
	if _, ok := t.lookup(addr); !ok {
		return ErrNotFound
	}
	delete(t.writes, addr)
	t.deletes[addr] = true
	return nil
}

func getFrom(records map[Address][]byte, addr Address) (record.Record, error) {
	data, ok := records[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Unmarshal(data)
}

func putInto(records map[Address][]byte, addr Address, rec record.Record) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	records[addr] = data
	return nil
}
