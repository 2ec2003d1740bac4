// Package kv contains a generic interface for the collection-oriented
// key-value databases chamber persists into.
//
// A DB holds named collections. Each record has a primary key and may carry
// secondary index values supplied by the caller; GetAllByIndex returns the
// records of a collection ordered by index value (byte order), so callers
// zero-pad numeric components such as timestamps. Single-record Put and
// Delete are atomic, including their index maintenance.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for a missing key.
var ErrNotFound = errors.New("kv: not found")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("kv: database closed")

// Index is a secondary index value attached to a record on Put.
type Index struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is a stored value together with its primary key.
type Record struct {
	Key   string
	Value []byte
}

// DB is an abstract collection store. All operations are safe for
// concurrent use.
type DB interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) ([]byte, error)
	// Put stores value under key and replaces the record's index values
	// with idx.
	Put(ctx context.Context, collection, key string, value []byte, idx ...Index) error
	// Delete removes key and its index values, or returns ErrNotFound.
	Delete(ctx context.Context, collection, key string) error
	// GetAllByIndex returns the records whose value for index starts with
	// prefix, ordered by index value then key. An empty prefix matches all
	// records that carry the index.
	GetAllByIndex(ctx context.Context, collection, index, prefix string) ([]Record, error)
	// GetAll returns every record of a collection ordered by key.
	GetAll(ctx context.Context, collection string) ([]Record, error)
	// Clear removes every record of a collection.
	Clear(ctx context.Context, collection string) error
	Close() error
}
