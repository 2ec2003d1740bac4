package network

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/chamber/limits"
	"github.com/opd-ai/chamber/transport"
	"github.com/opd-ai/chamber/wire"
)

var (
	aliceID = strings.Repeat("a", 64)
	bobID   = strings.Repeat("b", 64)
	carolID = strings.Repeat("c", 64)
)

// memQueue is an in-memory Queue and Replayer.
type memQueue struct {
	mu      sync.Mutex
	frames  map[string][][]byte
	failAll bool
}

func newMemQueue() *memQueue {
	return &memQueue{frames: make(map[string][][]byte)}
}

func (q *memQueue) Enqueue(_ context.Context, peer string, frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failAll {
		return errors.New("disk full")
	}
	q.frames[peer] = append(q.frames[peer], frame)
	return nil
}

func (q *memQueue) ReplayQueue(_ context.Context, peer string, send func([]byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames[peer]) > 0 {
		if err := send(q.frames[peer][0]); err != nil {
			return err
		}
		q.frames[peer] = q.frames[peer][1:]
	}
	return nil
}

func (q *memQueue) pending(peer string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames[peer])
}

// sink records everything the Manager reports.
type sink struct {
	mu           sync.Mutex
	received     []*wire.Payload
	connected    []string
	disconnected []string
	failReceive  bool
}

func (s *sink) Receive(_ context.Context, _ string, p *wire.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReceive {
		return errors.New("store unavailable")
	}
	return nil
}

func (s *sink) MessageReceived(_ string, p *wire.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, p)
}

func (s *sink) PeerConnected(peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, peer)
}

func (s *sink) PeerDisconnected(peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, peer)
}

func (s *sink) messages() []*wire.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*wire.Payload(nil), s.received...)
}

func (s *sink) disconnects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.disconnected...)
}

type node struct {
	ep    *transport.MemoryEndpoint
	mgr   *Manager
	queue *memQueue
	sink  *sink
}

func newNode(t *testing.T, net *transport.MemoryNetwork, id string, opts ...Option) *node {
	t.Helper()
	n := &node{
		ep:    net.Endpoint(id),
		queue: newMemQueue(),
		sink:  &sink{},
	}
	n.mgr = NewManager(n.ep, opts...)
	n.mgr.SetQueue(n.queue)
	n.mgr.SetReplayer(n.queue)
	n.mgr.SetInbox(n.sink)
	n.mgr.SetObserver(n.sink)
	require.NoError(t, n.mgr.Init(context.Background()))
	t.Cleanup(func() { n.mgr.Shutdown() })
	return n
}

func textFrame(t *testing.T, content string) []byte {
	t.Helper()
	iv := make([]byte, limits.IVSize)
	p, err := wire.NewBinary(wire.KindFile, []byte(content), iv, content, time.Now())
	require.NoError(t, err)
	b, err := wire.Encode(p)
	require.NoError(t, err)
	return b
}

func names(ps []*wire.Payload) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestSendDeliversOverNewConnection(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return len(bob.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", bob.sink.messages()[0].Name)
	assert.True(t, alice.mgr.IsPeerConnected(bobID))
	require.Eventually(t, func() bool { return bob.mgr.IsPeerConnected(aliceID) }, time.Second, 5*time.Millisecond)
}

func TestConnectReusesOpenChannel(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	newNode(t, net, bobID)

	ctx := context.Background()
	first, err := alice.mgr.Connect(ctx, bobID)
	require.NoError(t, err)
	second, err := alice.mgr.Connect(ctx, bobID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, alice.ep.Dials())
}

func TestConcurrentConnectsShareOneDial(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	newNode(t, net, bobID)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = alice.mgr.Connect(context.Background(), bobID)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, alice.ep.Dials())
}

func TestSendToOfflinePeerQueues(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)
	bob.ep.SetOnline(false)

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "m1"))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = alice.mgr.Send(context.Background(), bobID, textFrame(t, "m2"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, alice.queue.pending(bobID))

	bob.ep.SetOnline(true)
	_, err = alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)

	// replay finishes before Connect returns
	assert.Equal(t, 0, alice.queue.pending(bobID))

	ok, err = alice.mgr.Send(context.Background(), bobID, textFrame(t, "m3"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool { return len(bob.sink.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2", "m3"}, names(bob.sink.messages()))
}

func TestSendWithoutQueueReturnsError(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "x"), WithoutQueue())
	assert.False(t, ok)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, transport.ErrPeerUnavailable)
	assert.Equal(t, 0, alice.queue.pending(bobID))
}

func TestSendQueueFailure(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	alice.queue.failAll = true

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "x"))
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestSendWithNoQueue(t *testing.T) {
	net := transport.NewMemoryNetwork()
	mgr := NewManager(net.Endpoint(aliceID))
	require.NoError(t, mgr.Init(context.Background()))
	defer mgr.Shutdown()

	ok, err := mgr.Send(context.Background(), bobID, []byte("{}"))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNoQueue)
}

func TestConnectTimeout(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID, WithConnectTimeout(50*time.Millisecond))
	bob := newNode(t, net, bobID)
	bob.ep.SetUnresponsive(true)

	start := time.Now()
	_, err := alice.mgr.Connect(context.Background(), bobID)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Less(t, time.Since(start), time.Second)

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "late"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, alice.queue.pending(bobID))
}

func TestStalePendingConnectionIsRedialed(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID, WithConnectTimeout(50*time.Millisecond))
	bob := newNode(t, net, bobID)
	bob.ep.SetUnresponsive(true)

	_, err := alice.mgr.Connect(context.Background(), bobID)
	require.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Equal(t, Connecting, alice.mgr.PeerState(bobID))

	bob.ep.SetUnresponsive(false)
	_, err = alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)
	assert.Equal(t, 2, alice.ep.Dials())
	assert.True(t, alice.mgr.IsPeerConnected(bobID))
}

func TestConnectValidation(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)

	_, err := alice.mgr.Connect(context.Background(), "not-an-id")
	assert.Error(t, err)

	_, err = alice.mgr.Connect(context.Background(), aliceID)
	assert.ErrorIs(t, err, ErrSelfConnect)
}

func TestNotInitialized(t *testing.T) {
	net := transport.NewMemoryNetwork()
	mgr := NewManager(net.Endpoint(aliceID))

	_, err := mgr.Connect(context.Background(), bobID)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, mgr.Status().Online)

	require.NoError(t, mgr.Init(context.Background()))
	assert.ErrorIs(t, mgr.Init(context.Background()), ErrAlreadyInitialized)
	require.NoError(t, mgr.Shutdown())

	_, err = mgr.Connect(context.Background(), bobID)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestMalformedFramesAreDropped(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	ch, err := alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)
	require.NoError(t, ch.Send([]byte("not json")))
	require.NoError(t, ch.Send([]byte(`{"type":"video","iv":"AAAAAAAAAAAAAAAA","timestamp":1}`)))
	require.NoError(t, ch.Send(textFrame(t, "valid")))

	require.Eventually(t, func() bool { return len(bob.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "valid", bob.sink.messages()[0].Name)
}

func TestInboxFailureSkipsObserver(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)
	bob.sink.failReceive = true

	ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "lost"))
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, bob.sink.messages())
}

func TestPeerDisconnectNotifiesObserver(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	_, err := alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)

	bob.ep.SetOnline(false)

	require.Eventually(t, func() bool { return len(alice.sink.disconnects()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{bobID}, alice.sink.disconnects())
	assert.Equal(t, Disconnected, alice.mgr.PeerState(bobID))
}

func TestDisconnectAndStatus(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	newNode(t, net, bobID)
	newNode(t, net, carolID)

	ctx := context.Background()
	_, err := alice.mgr.Connect(ctx, bobID)
	require.NoError(t, err)
	_, err = alice.mgr.Connect(ctx, carolID)
	require.NoError(t, err)

	st := alice.mgr.Status()
	assert.True(t, st.Online)
	assert.Equal(t, 2, st.Connections)
	assert.Equal(t, aliceID, st.PeerID)
	assert.ElementsMatch(t, []string{bobID, carolID}, alice.mgr.ConnectedPeers())

	alice.mgr.Disconnect(bobID)
	require.Eventually(t, func() bool { return !alice.mgr.IsPeerConnected(bobID) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, alice.mgr.Status().Connections)
}

func TestSimultaneousDialsSettle(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		alice.mgr.Send(context.Background(), bobID, textFrame(t, "from-alice"))
	}()
	go func() {
		defer wg.Done()
		bob.mgr.Send(context.Background(), aliceID, textFrame(t, "from-bob"))
	}()
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(bob.sink.messages()) == 1 && len(alice.sink.messages()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "from-alice", bob.sink.messages()[0].Name)
	assert.Equal(t, "from-bob", alice.sink.messages()[0].Name)
}

func TestIncomingFromLowerIDLosesToOwnDial(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)
	bob.ep.SetUnresponsive(true)

	// alice's dial to bob hangs, leaving an outbound entry
	go alice.mgr.Connect(context.Background(), bobID)
	require.Eventually(t, func() bool { return alice.mgr.PeerState(bobID) == Connecting }, time.Second, 5*time.Millisecond)

	_, err := bob.mgr.Connect(context.Background(), aliceID)
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, transport.ErrChannelClosed)
	assert.Equal(t, Connecting, alice.mgr.PeerState(bobID))
}

func TestIncomingReplacesOpenChannel(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	first, err := bob.mgr.Connect(context.Background(), aliceID)
	require.NoError(t, err)

	// alice lost track of bob and dials again; bob accepts the new channel
	alice.mgr.mu.Lock()
	delete(alice.mgr.conns, bobID)
	alice.mgr.mu.Unlock()
	_, err = alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return first.(interface{ State() transport.ChannelState }).State() == transport.ChannelClosed
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return bob.mgr.IsPeerConnected(aliceID) }, time.Second, 5*time.Millisecond)
}

// pendingObserver records how many frames were still queued for the peer
// at the moment PeerConnected fired.
type pendingObserver struct {
	*sink
	queue *memQueue

	mu   sync.Mutex
	seen []int
}

func (o *pendingObserver) PeerConnected(peer string) {
	n := o.queue.pending(peer)
	o.mu.Lock()
	o.seen = append(o.seen, n)
	o.mu.Unlock()
	o.sink.PeerConnected(peer)
}

func (o *pendingObserver) counts() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.seen...)
}

func TestReplayFinishesBeforePeerConnected(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)
	bob.ep.SetOnline(false)

	for _, text := range []string{"q1", "q2", "q3"} {
		ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, text))
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.Equal(t, 3, alice.queue.pending(bobID))

	obs := &pendingObserver{sink: alice.sink, queue: alice.queue}
	alice.mgr.SetObserver(obs)

	bob.ep.SetOnline(true)
	_, err := alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(obs.counts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{0}, obs.counts())
}

// gatedReplayer holds every replayed frame until release is closed.
type gatedReplayer struct {
	queue   *memQueue
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedReplayer(q *memQueue) *gatedReplayer {
	return &gatedReplayer{
		queue:   q,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedReplayer) ReplayQueue(ctx context.Context, peer string, send func([]byte) error) error {
	return g.queue.ReplayQueue(ctx, peer, func(b []byte) error {
		g.once.Do(func() { close(g.started) })
		<-g.release
		return send(b)
	})
}

func TestSendDuringReplayArrivesAfterQueuedFrames(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)
	bob.ep.SetOnline(false)

	for _, text := range []string{"q1", "q2"} {
		ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, text))
		require.NoError(t, err)
		require.False(t, ok)
	}

	gate := newGatedReplayer(alice.queue)
	alice.mgr.SetReplayer(gate)
	bob.ep.SetOnline(true)

	connected := make(chan error, 1)
	go func() {
		_, err := alice.mgr.Connect(context.Background(), bobID)
		connected <- err
	}()

	select {
	case <-gate.started:
	case <-time.After(time.Second):
		t.Fatal("replay never started")
	}

	type result struct {
		ok  bool
		err error
	}
	sent := make(chan result, 1)
	go func() {
		ok, err := alice.mgr.Send(context.Background(), bobID, textFrame(t, "live"))
		sent <- result{ok, err}
	}()

	select {
	case <-sent:
		t.Fatal("Send completed while replay was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-connected)
	r := <-sent
	require.NoError(t, r.err)
	assert.True(t, r.ok)

	require.Eventually(t, func() bool { return len(bob.sink.messages()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"q1", "q2", "live"}, names(bob.sink.messages()))
	assert.Equal(t, 0, alice.queue.pending(bobID))
}

func TestFlushReplaysOnOpenChannel(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	bob := newNode(t, net, bobID)

	// nothing to send on a peer that is not connected
	require.NoError(t, alice.queue.Enqueue(context.Background(), bobID, textFrame(t, "late")))
	alice.mgr.flush(bobID)
	assert.Equal(t, 1, alice.queue.pending(bobID))

	alice.mgr.SetReplayer(nil)
	_, err := alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)
	alice.mgr.SetReplayer(alice.queue)

	alice.mgr.flush(bobID)
	assert.Equal(t, 0, alice.queue.pending(bobID))
	require.Eventually(t, func() bool { return len(bob.sink.messages()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "late", bob.sink.messages()[0].Name)
}

func TestFlushRacesDisconnect(t *testing.T) {
	net := transport.NewMemoryNetwork()
	alice := newNode(t, net, aliceID)
	newNode(t, net, bobID)

	_, err := alice.mgr.Connect(context.Background(), bobID)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, alice.queue.Enqueue(context.Background(), bobID, textFrame(t, "x")))
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			alice.mgr.flush(bobID)
		}()
		go func() {
			defer wg.Done()
			alice.mgr.Disconnect(bobID)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return !alice.mgr.IsPeerConnected(bobID) }, time.Second, 5*time.Millisecond)
}
