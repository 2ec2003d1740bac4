package leveldbkv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/storage/kv/kvtest"
)

func TestLevelDBContract(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer db.Close()

	kvtest.Run(t, db)
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(ctx, "messages", "m1", []byte("cipher"),
		kv.Index{Name: "contact", Value: "peer/0001"}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	v, err := db.Get(ctx, "messages", "m1")
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), v)

	recs, err := db.GetAllByIndex(ctx, "messages", "contact", "peer/")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "m1", recs[0].Key)
}

func TestLevelDBClosed(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Get(context.Background(), "c", "k")
	assert.ErrorIs(t, err, kv.ErrClosed)
}
