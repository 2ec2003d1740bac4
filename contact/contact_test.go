package contact

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/limits"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/wire"
)

var (
	selfID  = strings.Repeat("1", 64)
	aliceID = strings.Repeat("a", 64)
	bobID   = strings.Repeat("b", 64)
	epoch   = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

func newTestBook(t *testing.T) (*Book, *storage.Store, *crypto.FixedTimeProvider) {
	t.Helper()
	store := storage.New(kv.NewMemDB())
	tp := &crypto.FixedTimeProvider{T: epoch}
	store.SetTimeProvider(tp)
	t.Cleanup(func() { store.Close() })
	return NewBookWithTimeProvider(store, selfID, tp), store, tp
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	book, _, _ := newTestBook(t)

	c, err := book.Add(ctx, "  "+strings.ToUpper(aliceID)+"\n", "")
	require.NoError(t, err)
	assert.Equal(t, aliceID, c.PublicID)
	assert.Equal(t, "User aaaaaaaa", c.DisplayName)
	assert.Equal(t, epoch, c.AddedAt)
	assert.Zero(t, c.UnreadCount)

	c, err = book.Add(ctx, bobID, " Bob ")
	require.NoError(t, err)
	assert.Equal(t, "Bob", c.DisplayName)
}

func TestAddRejects(t *testing.T) {
	ctx := context.Background()
	book, _, _ := newTestBook(t)
	_, err := book.Add(ctx, aliceID, "")
	require.NoError(t, err)

	tests := []struct {
		name string
		id   string
		dn   string
		want error
	}{
		{"self", selfID, "", ErrSelfContact},
		{"duplicate", aliceID, "again", ErrContactExists},
		{"malformed", "not-an-id", "", identity.ErrInvalidPublicID},
		{"too short", aliceID[:63], "", identity.ErrInvalidPublicID},
		{"long name", bobID, strings.Repeat("n", limits.MaxDisplayName+1), limits.ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := book.Add(ctx, tt.id, tt.dn)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestListOrderAndRename(t *testing.T) {
	ctx := context.Background()
	book, _, clock := newTestBook(t)

	_, err := book.Add(ctx, aliceID, "Alice")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = book.Add(ctx, bobID, "Bob")
	require.NoError(t, err)

	list, err := book.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bobID, list[0].PublicID)

	c, err := book.Rename(ctx, aliceID, "Alice L.")
	require.NoError(t, err)
	assert.Equal(t, "Alice L.", c.DisplayName)

	c, err = book.Rename(ctx, aliceID, "")
	require.NoError(t, err)
	assert.Equal(t, identity.DefaultDisplayName(aliceID), c.DisplayName)

	_, err = book.Rename(ctx, selfID, "me")
	assert.ErrorIs(t, err, storage.ErrContactNotFound)
}

func TestMarkRead(t *testing.T) {
	ctx := context.Background()
	book, store, _ := newTestBook(t)
	_, err := book.Add(ctx, aliceID, "")
	require.NoError(t, err)

	_, err = store.UpdateContact(ctx, aliceID, func(c *storage.Contact) error {
		c.UnreadCount = 4
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, book.MarkRead(ctx, aliceID))
	c, err := book.Get(ctx, aliceID)
	require.NoError(t, err)
	assert.Zero(t, c.UnreadCount)

	assert.ErrorIs(t, book.MarkRead(ctx, bobID), storage.ErrContactNotFound)
}

func TestRemoveCascades(t *testing.T) {
	ctx := context.Background()
	book, store, _ := newTestBook(t)
	_, err := book.Add(ctx, aliceID, "")
	require.NoError(t, err)
	_, err = book.Add(ctx, bobID, "")
	require.NoError(t, err)

	att := &storage.Attachment{ID: storage.NewID(), Kind: wire.KindImage, Blob: []byte{1}, IV: make([]byte, 12)}
	require.NoError(t, store.PutAttachment(ctx, att))
	require.NoError(t, store.AddMessage(ctx, &storage.Message{ContactID: aliceID, Type: wire.KindImage, AttachmentRef: att.ID, Timestamp: epoch}))
	require.NoError(t, store.AddMessage(ctx, &storage.Message{ContactID: aliceID, Type: wire.KindText, Ciphertext: "x", Timestamp: epoch}))
	require.NoError(t, store.AddMessage(ctx, &storage.Message{ContactID: bobID, Type: wire.KindText, Ciphertext: "y", Timestamp: epoch}))
	_, err = store.Enqueue(ctx, aliceID, []byte("frame"))
	require.NoError(t, err)

	require.NoError(t, book.Remove(ctx, aliceID))

	_, err = book.Get(ctx, aliceID)
	assert.ErrorIs(t, err, storage.ErrContactNotFound)
	msgs, err := store.ListMessages(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	_, err = store.GetAttachment(ctx, att.ID)
	assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	pending, err := store.Pending(ctx, aliceID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	msgs, err = store.ListMessages(ctx, bobID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1, "other conversations are untouched")

	assert.ErrorIs(t, book.Remove(ctx, aliceID), storage.ErrContactNotFound)
}
