package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/wire"
)

var (
	selfID  = strings.Repeat("1", 64)
	aliceID = strings.Repeat("a", 64)
	bobID   = strings.Repeat("b", 64)
	epoch   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) (*Store, *crypto.FixedTimeProvider) {
	t.Helper()
	s := New(kv.NewMemDB())
	tp := &crypto.FixedTimeProvider{T: epoch}
	s.SetTimeProvider(tp)
	t.Cleanup(func() { s.Close() })
	return s, tp
}

func TestIdentity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.GetIdentity(ctx)
	assert.ErrorIs(t, err, ErrNoIdentity)

	id := &Identity{PublicID: selfID, RecoveryCodeHashes: []string{"h1", "h2"}, CreatedAt: epoch}
	require.NoError(t, s.SaveIdentity(ctx, id))

	got, err := s.GetIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, selfID, got.PublicID)
	assert.Equal(t, []string{"h1", "h2"}, got.RecoveryCodeHashes)

	assert.Error(t, s.SaveIdentity(ctx, &Identity{PublicID: "short"}))
}

func TestContactsOrderedByActivity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.PutContact(ctx, &Contact{PublicID: aliceID, DisplayName: "alice", AddedAt: epoch}))
	require.NoError(t, s.PutContact(ctx, &Contact{PublicID: bobID, DisplayName: "bob", AddedAt: epoch.Add(time.Minute)}))

	list, err := s.ListContacts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, bobID, list[0].PublicID)

	alice, err := s.GetContact(ctx, aliceID)
	require.NoError(t, err)
	alice.LastMessageAt = epoch.Add(time.Hour)
	require.NoError(t, s.PutContact(ctx, alice))

	list, err = s.ListContacts(ctx)
	require.NoError(t, err)
	assert.Equal(t, aliceID, list[0].PublicID, "new message moves contact to the top")

	require.NoError(t, s.DeleteContact(ctx, aliceID))
	_, err = s.GetContact(ctx, aliceID)
	assert.ErrorIs(t, err, ErrContactNotFound)
	assert.ErrorIs(t, s.DeleteContact(ctx, aliceID), ErrContactNotFound)
}

func TestUpdateContact(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.UpdateContact(ctx, aliceID, func(c *Contact) error { return nil })
	assert.ErrorIs(t, err, ErrContactNotFound)

	require.NoError(t, s.PutContact(ctx, &Contact{PublicID: aliceID, AddedAt: epoch}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateContact(ctx, aliceID, func(c *Contact) error {
				c.UnreadCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	c, err := s.GetContact(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 20, c.UnreadCount)

	boom := errors.New("boom")
	_, err = s.UpdateContact(ctx, aliceID, func(c *Contact) error {
		c.UnreadCount = 0
		return boom
	})
	assert.ErrorIs(t, err, boom)
	c, err = s.GetContact(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 20, c.UnreadCount, "failed update is not stored")
}

func TestMessagesTranscriptOrder(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		require.NoError(t, s.AddMessage(ctx, &Message{
			ContactID:  aliceID,
			Type:       wire.KindText,
			Timestamp:  epoch.Add(offset),
			Ciphertext: string(rune('a' + i)),
		}))
	}
	require.NoError(t, s.AddMessage(ctx, &Message{ContactID: bobID, Type: wire.KindText, Timestamp: epoch}))

	msgs, err := s.ListMessages(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "b", msgs[0].Ciphertext)
	assert.Equal(t, "c", msgs[1].Ciphertext)
	assert.Equal(t, "a", msgs[2].Ciphertext)
	assert.NotEmpty(t, msgs[0].ID)

	got, err := s.GetMessage(ctx, msgs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, msgs[0].ID, got.ID)
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	att := &Attachment{Kind: wire.KindImage, Blob: []byte{1}, IV: make([]byte, 12)}
	require.NoError(t, s.PutAttachment(ctx, att))
	require.NoError(t, s.AddMessage(ctx, &Message{ContactID: aliceID, Type: wire.KindImage, Timestamp: epoch, AttachmentRef: att.ID}))
	require.NoError(t, s.AddMessage(ctx, &Message{ContactID: aliceID, Type: wire.KindText, Timestamp: epoch.Add(time.Second)}))
	require.NoError(t, s.AddMessage(ctx, &Message{ContactID: bobID, Type: wire.KindText, Timestamp: epoch}))

	n, err := s.DeleteConversation(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetAttachment(ctx, att.ID)
	assert.ErrorIs(t, err, ErrAttachmentNotFound)

	left, err := s.ListMessages(ctx, bobID)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestQueueFIFO(t *testing.T) {
	ctx := context.Background()
	s, tp := newTestStore(t)

	first, err := s.Enqueue(ctx, aliceID, []byte("one"))
	require.NoError(t, err)
	// same instant: sequence number breaks the tie
	_, err = s.Enqueue(ctx, aliceID, []byte("two"))
	require.NoError(t, err)
	tp.Advance(time.Second)
	_, err = s.Enqueue(ctx, bobID, []byte("bob"))
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, aliceID, []byte("three"))
	require.NoError(t, err)

	pending, err := s.Pending(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, []byte("one"), pending[0].Payload)
	assert.Equal(t, []byte("two"), pending[1].Payload)
	assert.Equal(t, []byte("three"), pending[2].Payload)

	require.NoError(t, s.Dequeue(ctx, first.ID))
	assert.ErrorIs(t, s.Dequeue(ctx, first.ID), ErrQueueEntryNotFound)

	pending, err = s.Pending(ctx, aliceID)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := s.AllPending(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := s.DropQueue(ctx, aliceID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.Enqueue(ctx, aliceID, nil)
	assert.Error(t, err)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, _ := newTestStore(t)

	require.NoError(t, src.SaveIdentity(ctx, &Identity{PublicID: selfID, CreatedAt: epoch}))
	require.NoError(t, src.PutContact(ctx, &Contact{PublicID: aliceID, DisplayName: "alice", AddedAt: epoch}))
	require.NoError(t, src.AddMessage(ctx, &Message{ContactID: aliceID, Type: wire.KindText, Timestamp: epoch, Ciphertext: "Y3Q="}))
	require.NoError(t, src.PutAttachment(ctx, &Attachment{Kind: wire.KindFile, Blob: []byte{9}, IV: make([]byte, 12)}))
	_, err := src.Enqueue(ctx, aliceID, []byte("frame"))
	require.NoError(t, err)

	snap, err := src.Export(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, snap.WriteJSON(&buf))
	decoded, err := ReadSnapshot(&buf)
	require.NoError(t, err)

	dst, _ := newTestStore(t)
	require.NoError(t, dst.PutContact(ctx, &Contact{PublicID: bobID, AddedAt: epoch}))
	require.NoError(t, dst.Import(ctx, decoded))

	_, err = dst.GetContact(ctx, bobID)
	assert.ErrorIs(t, err, ErrContactNotFound, "import replaces existing data")

	id, err := dst.GetIdentity(ctx)
	require.NoError(t, err)
	assert.Equal(t, selfID, id.PublicID)

	msgs, err := dst.ListMessages(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Y3Q=", msgs[0].Ciphertext)

	pending, err := dst.Pending(ctx, aliceID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	next, err := dst.Enqueue(ctx, aliceID, []byte("after"))
	require.NoError(t, err)
	assert.Greater(t, next.Seq, pending[0].Seq)

	st, err := dst.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, StorageStats{Contacts: 1, Messages: 1, Attachments: 1, Queued: 2}, st)
}

func TestImportRejectsBadSnapshot(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	assert.ErrorIs(t, s.Import(ctx, &Snapshot{Version: 99}), ErrSnapshotVersion)
	assert.Error(t, s.Import(ctx, &Snapshot{Version: SnapshotVersion, Identity: &Identity{PublicID: "nope"}}))
	assert.Error(t, s.Import(ctx, nil))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.SaveIdentity(ctx, &Identity{PublicID: selfID}))
	require.NoError(t, s.PutContact(ctx, &Contact{PublicID: aliceID}))
	require.NoError(t, s.Clear(ctx))

	_, err := s.GetIdentity(ctx)
	assert.ErrorIs(t, err, ErrNoIdentity)
	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st)
}
