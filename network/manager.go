package network

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/transport"
	"github.com/opd-ai/chamber/wire"
)

// DefaultConnectTimeout bounds how long Connect waits for a channel to
// open and replay its queue.
const DefaultConnectTimeout = 5 * time.Second

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.connectTimeout = d
		}
	}
}

// WithTimeProvider sets the clock used to age pending connections.
func WithTimeProvider(tp crypto.TimeProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.timeProvider = tp
		}
	}
}

type peerConn struct {
	peer      string
	channel   transport.Channel
	state     PeerState
	err       error
	startedAt time.Time
	outbound  bool

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once
}

func newPeerConn(peer string, now time.Time) *peerConn {
	return &peerConn{
		peer:      peer,
		state:     Connecting,
		startedAt: now,
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (pc *peerConn) markReady() { pc.readyOnce.Do(func() { close(pc.ready) }) }
func (pc *peerConn) markDone()  { pc.doneOnce.Do(func() { close(pc.done) }) }

// Manager owns the set of live peer connections. It dials peers on demand,
// replays queued frames when a channel opens, queues frames it cannot
// deliver and hands inbound payloads to the Inbox and Observer.
type Manager struct {
	endpoint       transport.Endpoint
	connectTimeout time.Duration
	timeProvider   crypto.TimeProvider

	mu       sync.Mutex
	conns    map[string]*peerConn
	online   bool
	ctx      context.Context
	cancel   context.CancelFunc
	queue    Queue
	replayer Replayer
	inbox    Inbox
	observer Observer
}

// NewManager creates a Manager over endpoint. Call Init before use.
func NewManager(endpoint transport.Endpoint, opts ...Option) *Manager {
	m := &Manager{
		endpoint:       endpoint,
		connectTimeout: DefaultConnectTimeout,
		timeProvider:   crypto.DefaultTimeProvider{},
		conns:          make(map[string]*peerConn),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetQueue sets where undeliverable frames go.
func (m *Manager) SetQueue(q Queue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = q
}

// SetReplayer sets the hook that flushes queued frames on open.
func (m *Manager) SetReplayer(r Replayer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayer = r
}

// SetInbox sets where inbound payloads are persisted.
func (m *Manager) SetInbox(in Inbox) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbox = in
}

// SetObserver sets the receiver of connectivity and message events.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

func (m *Manager) hooks() (Queue, Replayer, Inbox, Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue, m.replayer, m.inbox, m.observer
}

// Init starts accepting incoming channels.
func (m *Manager) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.online {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.online = true
	m.mu.Unlock()

	m.endpoint.OnIncoming(m.handleIncoming)

	logrus.WithFields(logrus.Fields{
		"function": "Init",
		"peer_id":  identity.Short(m.endpoint.LocalPeer()),
	}).Info("Network initialized")
	return nil
}

// Shutdown closes every channel and the endpoint. Observers are not told
// about connections torn down here.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return nil
	}
	m.online = false
	m.cancel()
	conns := m.conns
	m.conns = make(map[string]*peerConn)
	channels := make([]transport.Channel, 0, len(conns))
	for _, pc := range conns {
		if pc.channel != nil {
			channels = append(channels, pc.channel)
		}
	}
	m.mu.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	for _, pc := range conns {
		pc.markDone()
	}

	err := m.endpoint.Close()

	logrus.WithFields(logrus.Fields{
		"function":    "Shutdown",
		"connections": len(conns),
	}).Info("Network shut down")
	return err
}

// Connect returns an open channel to peer, dialing if needed. An open
// connection is reused and an in-flight attempt is joined. Connect returns
// only after the peer's queue has been replayed.
func (m *Manager) Connect(ctx context.Context, peer string) (transport.Channel, error) {
	if err := identity.ValidatePublicID(peer); err != nil {
		return nil, err
	}
	if peer == m.endpoint.LocalPeer() {
		return nil, ErrSelfConnect
	}

	pc, err := m.entryFor(peer)
	if err != nil {
		return nil, err
	}
	return m.await(ctx, pc)
}

// entryFor returns the current entry for peer, starting a dial when there
// is none or the pending one has outlived the connect timeout.
func (m *Manager) entryFor(peer string) (*peerConn, error) {
	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		return nil, ErrNotInitialized
	}

	now := m.timeProvider.Now()
	var stale *peerConn
	var staleChannel transport.Channel
	if pc, ok := m.conns[peer]; ok {
		if pc.state == Open || now.Sub(pc.startedAt) < m.connectTimeout {
			m.mu.Unlock()
			return pc, nil
		}
		stale, staleChannel = pc, pc.channel
	}

	pc := newPeerConn(peer, now)
	pc.outbound = true
	m.conns[peer] = pc
	ctx := m.ctx
	m.mu.Unlock()

	if stale != nil {
		logrus.WithFields(logrus.Fields{
			"function": "entryFor",
			"peer":     identity.Short(peer),
		}).Debug("Replacing stale pending connection")
		if staleChannel != nil {
			staleChannel.Close()
		}
		stale.markDone()
	}

	ch, err := m.endpoint.Dial(ctx, peer)
	if err != nil {
		m.terminated(pc, fmt.Errorf("dial: %w", err))
		return pc, nil
	}
	m.attach(pc, ch)
	return pc, nil
}

func (m *Manager) await(ctx context.Context, pc *peerConn) (transport.Channel, error) {
	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-pc.ready:
			return pc.channel, nil
		case <-pc.done:
			// a replacement, such as the peer's own incoming channel, may
			// have taken over
			m.mu.Lock()
			next, ok := m.conns[pc.peer]
			m.mu.Unlock()
			if ok && next != pc {
				pc = next
				continue
			}
			err := pc.err
			if err == nil {
				err = transport.ErrChannelClosed
			}
			return nil, &ConnectionError{Peer: pc.peer, Err: err}
		case <-timer.C:
			logrus.WithFields(logrus.Fields{
				"function": "Connect",
				"peer":     identity.Short(pc.peer),
				"timeout":  m.connectTimeout,
			}).Warn("Connection attempt timed out")
			return nil, ErrConnectionTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) attach(pc *peerConn, ch transport.Channel) {
	m.mu.Lock()
	pc.channel = ch
	m.mu.Unlock()

	ch.OnData(func(b []byte) { m.dispatch(pc.peer, b) })
	ch.OnError(func(err error) { m.terminated(pc, err) })
	ch.OnClose(func() { m.terminated(pc, nil) })
	ch.OnOpen(func() { go m.opened(pc) })
}

func (m *Manager) handleIncoming(ch transport.Channel) {
	peer := ch.RemotePeer()
	logger := logrus.WithFields(logrus.Fields{
		"function": "handleIncoming",
		"peer":     identity.Short(peer),
	})

	if identity.ValidatePublicID(peer) != nil {
		logger.Warn("Rejecting channel from invalid ID")
		ch.Close()
		return
	}

	m.mu.Lock()
	if !m.online {
		m.mu.Unlock()
		ch.Close()
		return
	}
	prev := m.conns[peer]
	if prev != nil && prev.outbound && m.endpoint.LocalPeer() < peer &&
		(prev.state == Connecting || prev.state == Open) {
		// both sides dialed; the lower ID's channel wins
		m.mu.Unlock()
		logger.Debug("Rejecting incoming channel in favor of our own dial")
		ch.Close()
		return
	}
	var prevState PeerState
	var prevChannel transport.Channel
	if prev != nil {
		prevState, prevChannel = prev.state, prev.channel
	}
	pc := newPeerConn(peer, m.timeProvider.Now())
	m.conns[peer] = pc
	m.mu.Unlock()

	if prev != nil {
		logger.WithField("previous_state", prevState.String()).Debug("Incoming channel replaces existing entry")
		if prevState == Open && prevChannel != nil {
			prevChannel.Close()
		}
	}

	m.attach(pc, ch)
}

func (m *Manager) opened(pc *peerConn) {
	m.mu.Lock()
	current := m.conns[pc.peer] == pc
	if current && pc.state == Connecting {
		pc.state = Open
	}
	ctx := m.ctx
	ch := pc.channel
	m.mu.Unlock()

	logger := logrus.WithFields(logrus.Fields{
		"function": "opened",
		"peer":     identity.Short(pc.peer),
	})

	if !current {
		logger.Debug("Closing superseded channel")
		ch.Close()
		return
	}

	_, replayer, _, observer := m.hooks()
	if replayer != nil {
		if err := replayer.ReplayQueue(ctx, pc.peer, ch.Send); err != nil {
			logger.WithError(err).Warn("Queue replay stopped early")
		}
	}
	pc.markReady()
	logger.Info("Peer connected")

	if observer != nil {
		observer.PeerConnected(pc.peer)
	}
}

func (m *Manager) terminated(pc *peerConn, err error) {
	m.mu.Lock()
	wasOpen := pc.state == Open
	if pc.state == Closed || pc.state == Errored {
		m.mu.Unlock()
		return
	}
	if err != nil {
		pc.state = Errored
	} else {
		pc.state = Closed
	}
	pc.err = err
	current := m.conns[pc.peer] == pc
	if current {
		delete(m.conns, pc.peer)
	}
	m.mu.Unlock()

	pc.markDone()

	logger := logrus.WithFields(logrus.Fields{
		"function": "terminated",
		"peer":     identity.Short(pc.peer),
		"state":    pc.state.String(),
	})
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Debug("Channel ended")

	if current && wasOpen {
		if _, _, _, observer := m.hooks(); observer != nil {
			observer.PeerDisconnected(pc.peer)
		}
	}
}

func (m *Manager) dispatch(peer string, frame []byte) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "dispatch",
		"peer":     identity.Short(peer),
		"size":     len(frame),
	})
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("panic", r).Error("Recovered from panic while handling inbound frame")
		}
	}()

	p, err := wire.Decode(frame)
	if err != nil {
		logger.WithError(err).Warn("Dropping malformed frame")
		return
	}

	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	_, _, inbox, observer := m.hooks()
	if inbox != nil {
		if err := inbox.Receive(ctx, peer, p); err != nil {
			logger.WithError(err).Warn("Inbound message not stored")
			return
		}
	}
	if observer != nil {
		observer.MessageReceived(peer, p)
	}
}

type sendOptions struct {
	queue bool
}

// SendOption adjusts a single Send call.
type SendOption func(*sendOptions)

// WithoutQueue makes Send report failures instead of queueing the frame.
func WithoutQueue() SendOption {
	return func(o *sendOptions) { o.queue = false }
}

// Send delivers frame to peer, connecting if necessary. When the peer
// cannot be reached the frame is queued for replay and Send returns false
// with a nil error; only a queue failure is returned as an error. With
// WithoutQueue the delivery error is returned instead.
func (m *Manager) Send(ctx context.Context, peer string, frame []byte, opts ...SendOption) (bool, error) {
	o := sendOptions{queue: true}
	for _, opt := range opts {
		opt(&o)
	}

	logger := logrus.WithFields(logrus.Fields{
		"function": "Send",
		"peer":     identity.Short(peer),
		"size":     len(frame),
	})

	ch, err := m.Connect(ctx, peer)
	if err == nil {
		err = ch.Send(frame)
	}
	if err == nil {
		logger.Debug("Frame delivered")
		return true, nil
	}
	logger.WithError(err).Info("Peer unreachable")
	if !o.queue {
		return false, err
	}

	queue, _, _, _ := m.hooks()
	if queue == nil {
		return false, ErrNoQueue
	}
	if qerr := queue.Enqueue(ctx, peer, frame); qerr != nil {
		return false, fmt.Errorf("failed to queue frame: %w", qerr)
	}

	// a channel may have opened and replayed while we were failing
	if m.IsPeerConnected(peer) {
		go m.flush(peer)
	}
	return false, nil
}

func (m *Manager) flush(peer string) {
	m.mu.Lock()
	var ch transport.Channel
	if pc := m.conns[peer]; pc != nil && pc.state == Open {
		ch = pc.channel
	}
	ctx := m.ctx
	m.mu.Unlock()
	if ch == nil {
		return
	}
	_, replayer, _, _ := m.hooks()
	if replayer == nil {
		return
	}
	if err := replayer.ReplayQueue(ctx, peer, ch.Send); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "flush",
			"peer":     identity.Short(peer),
		}).WithError(err).Warn("Queue replay stopped early")
	}
}

// Disconnect closes the channel to peer, if any.
func (m *Manager) Disconnect(peer string) {
	m.mu.Lock()
	var ch transport.Channel
	if pc := m.conns[peer]; pc != nil {
		ch = pc.channel
	}
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// IsPeerConnected reports whether an open channel to peer exists.
func (m *Manager) IsPeerConnected(peer string) bool {
	return m.PeerState(peer) == Open
}

// PeerState returns the state of the current entry for peer.
func (m *Manager) PeerState(peer string) PeerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pc, ok := m.conns[peer]; ok {
		return pc.state
	}
	return Disconnected
}

// ConnectedPeers lists peers with open channels.
func (m *Manager) ConnectedPeers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, pc := range m.conns {
		if pc.state == Open {
			out = append(out, id)
		}
	}
	return out
}

// Status reports whether the network is up and how many peers are open.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, pc := range m.conns {
		if pc.state == Open {
			n++
		}
	}
	return Status{Online: m.online, Connections: n, PeerID: m.endpoint.LocalPeer()}
}
