package messaging_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/messaging"
	"github.com/opd-ai/chamber/network"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/storage/kv"
	"github.com/opd-ai/chamber/transport"
)

type peer struct {
	id    string
	ep    *transport.MemoryEndpoint
	store *storage.Store
	msgs  *messaging.Manager
	net   *network.Manager
}

func startPeer(t *testing.T, mem *transport.MemoryNetwork, id string) *peer {
	t.Helper()
	p := &peer{id: id, ep: mem.Endpoint(id), store: storage.New(kv.NewMemDB())}

	var err error
	p.msgs, err = messaging.NewManager(p.store, id)
	require.NoError(t, err)

	p.net = network.NewManager(p.ep, network.WithConnectTimeout(200*time.Millisecond))
	p.net.SetQueue(p.msgs)
	p.net.SetReplayer(p.msgs)
	p.net.SetInbox(p.msgs)
	p.msgs.SetTransport(messaging.TransportFunc(func(ctx context.Context, peerID string, frame []byte) (bool, error) {
		return p.net.Send(ctx, peerID, frame)
	}))
	require.NoError(t, p.net.Init(context.Background()))

	t.Cleanup(func() {
		p.net.Shutdown()
		p.store.Close()
	})
	return p
}

func TestOfflinePeerReceivesQueuedMessageOnReconnect(t *testing.T) {
	ctx := context.Background()
	mem := transport.NewMemoryNetwork()
	alice := startPeer(t, mem, strings.Repeat("a", 64))
	bob := startPeer(t, mem, strings.Repeat("b", 64))
	bob.ep.SetOnline(false)

	res, err := alice.msgs.SendText(ctx, bob.id, "are you there?")
	require.NoError(t, err)
	assert.False(t, res.Delivered)

	pending, err := alice.msgs.Pending(ctx, bob.id)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	bob.ep.SetOnline(true)
	_, err = alice.net.Connect(ctx, bob.id)
	require.NoError(t, err)

	pending, err = alice.msgs.Pending(ctx, bob.id)
	require.NoError(t, err)
	assert.Empty(t, pending, "replayed entry is removed")

	var entries []messaging.Entry
	require.Eventually(t, func() bool {
		entries, err = bob.msgs.Conversation(ctx, alice.id)
		return err == nil && len(entries) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "are you there?", entries[0].Text)
	assert.False(t, entries[0].Message.Sent)
	assert.True(t, alice.net.IsPeerConnected(bob.id))
}

func TestQueuedMessagesArriveBeforeNewOnes(t *testing.T) {
	ctx := context.Background()
	mem := transport.NewMemoryNetwork()
	alice := startPeer(t, mem, strings.Repeat("a", 64))
	bob := startPeer(t, mem, strings.Repeat("b", 64))
	bob.ep.SetOnline(false)

	for _, text := range []string{"first", "second"} {
		_, err := alice.msgs.SendText(ctx, bob.id, text)
		require.NoError(t, err)
	}

	bob.ep.SetOnline(true)
	res, err := alice.msgs.SendText(ctx, bob.id, "third")
	require.NoError(t, err)
	assert.True(t, res.Delivered)

	var entries []messaging.Entry
	require.Eventually(t, func() bool {
		entries, err = bob.msgs.Conversation(ctx, alice.id)
		return err == nil && len(entries) == 3
	}, time.Second, 10*time.Millisecond)

	var texts []string
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	assert.Equal(t, []string{"first", "second", "third"}, texts)
}
