// Package kvtest holds a behavioural test suite shared by every kv.DB
// backend.
package kvtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/storage/kv"
)

// Run exercises db against the kv.DB contract. db must start empty.
func Run(t *testing.T, db kv.DB) {
	t.Run("GetPutDelete", func(t *testing.T) { testGetPutDelete(t, db) })
	t.Run("IndexOrdering", func(t *testing.T) { testIndexOrdering(t, db) })
	t.Run("IndexReplacedOnPut", func(t *testing.T) { testIndexReplaced(t, db) })
	t.Run("GetAllAndClear", func(t *testing.T) { testGetAllAndClear(t, db) })
}

func testGetPutDelete(t *testing.T, db kv.DB) {
	ctx := context.Background()

	_, err := db.Get(ctx, "things", "missing")
	assert.True(t, errors.Is(err, kv.ErrNotFound))

	require.NoError(t, db.Put(ctx, "things", "a", []byte("one")))
	v, err := db.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), v)

	require.NoError(t, db.Put(ctx, "things", "a", []byte("two")))
	v, err = db.Get(ctx, "things", "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), v)

	_, err = db.Get(ctx, "other", "a")
	assert.ErrorIs(t, err, kv.ErrNotFound, "collections are isolated")

	require.NoError(t, db.Delete(ctx, "things", "a"))
	_, err = db.Get(ctx, "things", "a")
	assert.ErrorIs(t, err, kv.ErrNotFound)
	assert.ErrorIs(t, db.Delete(ctx, "things", "a"), kv.ErrNotFound)
}

func testIndexOrdering(t *testing.T, db kv.DB) {
	ctx := context.Background()
	put := func(key, contact, ts string) {
		require.NoError(t, db.Put(ctx, "msgs", key, []byte(key),
			kv.Index{Name: "contact", Value: contact + "/" + ts}))
	}
	put("m3", "alice", "0003")
	put("m1", "alice", "0001")
	put("m9", "bob", "0002")
	put("m2", "alice", "0002")

	recs, err := db.GetAllByIndex(ctx, "msgs", "contact", "alice/")
	require.NoError(t, err)
	var keys []string
	for _, r := range recs {
		keys = append(keys, r.Key)
		assert.Equal(t, []byte(r.Key), r.Value)
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, keys)

	all, err := db.GetAllByIndex(ctx, "msgs", "contact", "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := db.GetAllByIndex(ctx, "msgs", "contact", "carol/")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, db.Delete(ctx, "msgs", "m2"))
	recs, err = db.GetAllByIndex(ctx, "msgs", "contact", "alice/")
	require.NoError(t, err)
	assert.Len(t, recs, 2, "delete removes index entries")
}

func testIndexReplaced(t *testing.T, db kv.DB) {
	ctx := context.Background()
	require.NoError(t, db.Put(ctx, "contacts", "c1", []byte("v1"), kv.Index{Name: "at", Value: "0005"}))
	require.NoError(t, db.Put(ctx, "contacts", "c2", []byte("v2"), kv.Index{Name: "at", Value: "0007"}))
	require.NoError(t, db.Put(ctx, "contacts", "c1", []byte("v1b"), kv.Index{Name: "at", Value: "0009"}))

	recs, err := db.GetAllByIndex(ctx, "contacts", "at", "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c2", recs[0].Key)
	assert.Equal(t, "c1", recs[1].Key)
	assert.Equal(t, []byte("v1b"), recs[1].Value)
}

func testGetAllAndClear(t *testing.T, db kv.DB) {
	ctx := context.Background()
	require.NoError(t, db.Put(ctx, "bag", "b", []byte("2"), kv.Index{Name: "x", Value: "1"}))
	require.NoError(t, db.Put(ctx, "bag", "a", []byte("1")))
	require.NoError(t, db.Put(ctx, "keep", "k", []byte("k")))

	recs, err := db.GetAll(ctx, "bag")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].Key)
	assert.Equal(t, "b", recs[1].Key)

	require.NoError(t, db.Clear(ctx, "bag"))
	recs, err = db.GetAll(ctx, "bag")
	require.NoError(t, err)
	assert.Empty(t, recs)
	idx, err := db.GetAllByIndex(ctx, "bag", "x", "")
	require.NoError(t, err)
	assert.Empty(t, idx)

	v, err := db.Get(ctx, "keep", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("k"), v)
}
