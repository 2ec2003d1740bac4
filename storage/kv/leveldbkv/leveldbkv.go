// Package leveldbkv implements the kv interface using leveldb.
//
// Key layout, with \x00 as separator:
//
//	r coll key               -> record value
//	i coll index value key   -> record key
//	x coll key               -> JSON list of the record's index values
//
// Index entries sort by value then key, so a prefix scan yields the
// ordering GetAllByIndex promises. Every write is a synchronous batch.
package leveldbkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/opd-ai/chamber/storage/kv"
)

const sep = "\x00"

// DB is a kv.DB backed by a leveldb database.
type DB struct {
	ldb *leveldb.DB
	// serializes read-modify-write of index refs
	mu sync.Mutex
}

// Open opens or creates a leveldb database at path.
func Open(path string) (*DB, error) {
	ldb, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "leveldbkv.Open",
		"path":     path,
	}).Debug("Opened leveldb store")
	return Wrap(ldb), nil
}

// Wrap uses an already opened leveldb.DB as a kv.DB.
func Wrap(ldb *leveldb.DB) *DB {
	return &DB{ldb: ldb}
}

func recordKey(coll, key string) []byte {
	return []byte("r" + sep + coll + sep + key)
}

func recordPrefix(coll string) []byte {
	return []byte("r" + sep + coll + sep)
}

func indexKey(coll string, ix kv.Index, key string) []byte {
	return []byte("i" + sep + coll + sep + ix.Name + sep + ix.Value + sep + key)
}

func indexPrefix(coll, index, valuePrefix string) []byte {
	return []byte("i" + sep + coll + sep + index + sep + valuePrefix)
}

func refsKey(coll, key string) []byte {
	return []byte("x" + sep + coll + sep + key)
}

func writeOpts() *opt.WriteOptions {
	return &opt.WriteOptions{Sync: true}
}

func translate(err error) error {
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return kv.ErrNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return kv.ErrClosed
	}
	return err
}

func (db *DB) loadRefs(coll, key string) ([]kv.Index, error) {
	raw, err := db.ldb.Get(refsKey(coll, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err)
	}
	var refs []kv.Index
	if err := json.Unmarshal(raw, &refs); err != nil {
		return nil, fmt.Errorf("corrupt index refs for %s/%s: %w", coll, key, err)
	}
	return refs, nil
}

// Get implements kv.DB.
func (db *DB) Get(_ context.Context, collection, key string) ([]byte, error) {
	v, err := db.ldb.Get(recordKey(collection, key), nil)
	if err != nil {
		return nil, translate(err)
	}
	return v, nil
}

// Put implements kv.DB.
func (db *DB) Put(_ context.Context, collection, key string, value []byte, idx ...kv.Index) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	old, err := db.loadRefs(collection, key)
	if err != nil {
		return err
	}

	b := new(leveldb.Batch)
	for _, ix := range old {
		b.Delete(indexKey(collection, ix, key))
	}
	b.Put(recordKey(collection, key), value)
	if len(idx) > 0 {
		refs, err := json.Marshal(idx)
		if err != nil {
			return fmt.Errorf("failed to encode index refs: %w", err)
		}
		for _, ix := range idx {
			b.Put(indexKey(collection, ix, key), []byte(key))
		}
		b.Put(refsKey(collection, key), refs)
	} else {
		b.Delete(refsKey(collection, key))
	}

	return translate(db.ldb.Write(b, writeOpts()))
}

// Delete implements kv.DB.
func (db *DB) Delete(_ context.Context, collection, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.ldb.Get(recordKey(collection, key), nil); err != nil {
		return translate(err)
	}
	old, err := db.loadRefs(collection, key)
	if err != nil {
		return err
	}

	b := new(leveldb.Batch)
	for _, ix := range old {
		b.Delete(indexKey(collection, ix, key))
	}
	b.Delete(refsKey(collection, key))
	b.Delete(recordKey(collection, key))
	return translate(db.ldb.Write(b, writeOpts()))
}

// GetAllByIndex implements kv.DB.
func (db *DB) GetAllByIndex(_ context.Context, collection, index, prefix string) ([]kv.Record, error) {
	iter := db.ldb.NewIterator(util.BytesPrefix(indexPrefix(collection, index, prefix)), nil)
	defer iter.Release()

	var out []kv.Record
	for iter.Next() {
		key := string(iter.Value())
		v, err := db.ldb.Get(recordKey(collection, key), nil)
		if errors.Is(err, leveldb.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, kv.Record{Key: key, Value: v})
	}
	if err := iter.Error(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// GetAll implements kv.DB.
func (db *DB) GetAll(_ context.Context, collection string) ([]kv.Record, error) {
	prefix := recordPrefix(collection)
	iter := db.ldb.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []kv.Record
	for iter.Next() {
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out = append(out, kv.Record{Key: string(iter.Key()[len(prefix):]), Value: value})
	}
	if err := iter.Error(); err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// Clear implements kv.DB.
func (db *DB) Clear(_ context.Context, collection string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	b := new(leveldb.Batch)
	for _, tag := range []string{"r", "i", "x"} {
		iter := db.ldb.NewIterator(util.BytesPrefix([]byte(tag+sep+collection+sep)), nil)
		for iter.Next() {
			k := make([]byte, len(iter.Key()))
			copy(k, iter.Key())
			b.Delete(k)
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return translate(err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "leveldbkv.Clear",
		"collection": collection,
		"entries":    b.Len(),
	}).Debug("Clearing collection")

	return translate(db.ldb.Write(b, writeOpts()))
}

// Close implements kv.DB.
func (db *DB) Close() error {
	return db.ldb.Close()
}
