package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memEntry struct {
	value []byte
	idx   []Index
}

// MemDB is an in-memory DB. It is used by tests and by the memory store
// backend; nothing survives Close.
type MemDB struct {
	mu          sync.RWMutex
	collections map[string]map[string]memEntry
	closed      bool
}

// NewMemDB creates an empty in-memory database.
func NewMemDB() *MemDB {
	return &MemDB{collections: make(map[string]map[string]memEntry)}
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Get implements DB.
func (db *MemDB) Get(_ context.Context, collection, key string) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	e, ok := db.collections[collection][key]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBytes(e.value), nil
}

// Put implements DB.
func (db *MemDB) Put(_ context.Context, collection, key string, value []byte, idx ...Index) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	c, ok := db.collections[collection]
	if !ok {
		c = make(map[string]memEntry)
		db.collections[collection] = c
	}
	c[key] = memEntry{value: copyBytes(value), idx: append([]Index(nil), idx...)}
	return nil
}

// Delete implements DB.
func (db *MemDB) Delete(_ context.Context, collection, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	c := db.collections[collection]
	if _, ok := c[key]; !ok {
		return ErrNotFound
	}
	delete(c, key)
	return nil
}

// GetAllByIndex implements DB.
func (db *MemDB) GetAllByIndex(_ context.Context, collection, index, prefix string) ([]Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	type hit struct {
		value string
		rec   Record
	}
	var hits []hit
	for key, e := range db.collections[collection] {
		for _, ix := range e.idx {
			if ix.Name == index && strings.HasPrefix(ix.Value, prefix) {
				hits = append(hits, hit{value: ix.Value, rec: Record{Key: key, Value: copyBytes(e.value)}})
				break
			}
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].value != hits[j].value {
			return hits[i].value < hits[j].value
		}
		return hits[i].rec.Key < hits[j].rec.Key
	})

	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out, nil
}

// GetAll implements DB.
func (db *MemDB) GetAll(_ context.Context, collection string) ([]Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	c := db.collections[collection]
	out := make([]Record, 0, len(c))
	for key, e := range c {
		out = append(out, Record{Key: key, Value: copyBytes(e.value)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Clear implements DB.
func (db *MemDB) Clear(_ context.Context, collection string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	delete(db.collections, collection)
	return nil
}

// Close implements DB.
func (db *MemDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.closed = true
	db.collections = nil
	return nil
}
