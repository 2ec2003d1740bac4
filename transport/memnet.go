package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
)

// ErrSendFailed is returned by Send on a memory endpoint configured to fail.
var ErrSendFailed = errors.New("simulated send failure")

// MemoryNetwork connects MemoryEndpoints inside one process. It stands in
// for the WebRTC network in tests and local demos.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[string]*MemoryEndpoint)}
}

// Endpoint returns the endpoint registered for id, creating an online one
// if none exists.
func (n *MemoryNetwork) Endpoint(id string) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &MemoryEndpoint{
		network:  n,
		id:       id,
		online:   true,
		channels: make(map[*memChannel]struct{}),
	}
	n.endpoints[id] = ep
	return ep
}

func (n *MemoryNetwork) lookup(id string) *MemoryEndpoint {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[id]
}

func (n *MemoryNetwork) remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, id)
}

// MemoryEndpoint is one peer on a MemoryNetwork.
type MemoryEndpoint struct {
	network *MemoryNetwork
	id      string

	mu           sync.Mutex
	online       bool
	unresponsive bool
	failSends    bool
	closed       bool
	onIncoming   func(Channel)
	channels     map[*memChannel]struct{}
	dials        int
}

// LocalPeer implements Endpoint.
func (e *MemoryEndpoint) LocalPeer() string { return e.id }

// OnIncoming implements Endpoint.
func (e *MemoryEndpoint) OnIncoming(fn func(Channel)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onIncoming = fn
}

// SetOnline toggles reachability. Going offline closes every channel the
// endpoint takes part in.
func (e *MemoryEndpoint) SetOnline(online bool) {
	e.mu.Lock()
	e.online = online
	var victims []*memChannel
	if !online {
		for ch := range e.channels {
			victims = append(victims, ch)
		}
	}
	e.mu.Unlock()

	for _, ch := range victims {
		ch.Close()
	}
}

// SetUnresponsive makes dials to this endpoint hang without ever opening.
func (e *MemoryEndpoint) SetUnresponsive(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unresponsive = v
}

// SetFailSends makes Send fail on every channel owned by this endpoint.
func (e *MemoryEndpoint) SetFailSends(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failSends = v
}

// Dials returns how many times Dial has been called on this endpoint.
func (e *MemoryEndpoint) Dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dials
}

// ActiveChannels returns the number of channels the endpoint takes part in.
func (e *MemoryEndpoint) ActiveChannels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels)
}

func (e *MemoryEndpoint) track(ch *memChannel) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || !e.online {
		return false
	}
	e.channels[ch] = struct{}{}
	return true
}

func (e *MemoryEndpoint) untrack(ch *memChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, ch)
}

// Dial implements Endpoint. Pairing happens asynchronously: the remote
// incoming handler runs first, then the remote side opens, then the local
// side opens.
func (e *MemoryEndpoint) Dial(ctx context.Context, peer string) (Channel, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.dials++
	e.mu.Unlock()

	local := newMemChannel(e, peer)
	if !e.track(local) {
		local.terminate(ErrPeerUnavailable)
		return local, nil
	}

	go e.connect(ctx, local, peer)
	return local, nil
}

func (e *MemoryEndpoint) connect(ctx context.Context, local *memChannel, peer string) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "MemoryEndpoint.connect",
		"local":    identity.Short(e.id),
		"peer":     identity.Short(peer),
	})

	remote := e.network.lookup(peer)
	if remote == nil {
		logger.Debug("Peer not on network")
		local.fail(ErrPeerUnavailable)
		return
	}

	remote.mu.Lock()
	reachable := remote.online && !remote.closed
	hang := remote.unresponsive
	incoming := remote.onIncoming
	remote.mu.Unlock()

	if !reachable || incoming == nil {
		logger.Debug("Peer offline")
		local.fail(ErrPeerUnavailable)
		return
	}
	if hang {
		logger.Debug("Peer unresponsive, leaving channel pending")
		return
	}
	if ctx.Err() != nil {
		local.fail(ctx.Err())
		return
	}

	other := newMemChannel(remote, e.id)
	if !remote.track(other) {
		local.fail(ErrPeerUnavailable)
		return
	}
	local.pair(other)

	incoming(other)
	other.emitOpen()
	local.emitOpen()
	logger.Debug("Memory channel open")
}

// Close implements Endpoint.
func (e *MemoryEndpoint) Close() error {
	e.SetOnline(false)
	e.mu.Lock()
	e.closed = true
	var pending []*memChannel
	for ch := range e.channels {
		pending = append(pending, ch)
	}
	e.mu.Unlock()
	for _, ch := range pending {
		ch.Close()
	}
	e.network.remove(e.id)
	return nil
}

type memChannel struct {
	channelEvents
	owner *MemoryEndpoint
	peer  string

	linkMu sync.Mutex
	remote *memChannel

	queueMu sync.Mutex
	queue   [][]byte
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newMemChannel(owner *MemoryEndpoint, peer string) *memChannel {
	ch := &memChannel{
		owner: owner,
		peer:  peer,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go ch.deliverLoop()
	return ch
}

func (c *memChannel) pair(other *memChannel) {
	c.linkMu.Lock()
	c.remote = other
	c.linkMu.Unlock()
	other.linkMu.Lock()
	other.remote = c
	other.linkMu.Unlock()
}

func (c *memChannel) peerChannel() *memChannel {
	c.linkMu.Lock()
	defer c.linkMu.Unlock()
	return c.remote
}

func (c *memChannel) RemotePeer() string { return c.peer }

// Send queues data for in-order delivery on the remote side.
func (c *memChannel) Send(data []byte) error {
	switch c.State() {
	case ChannelConnecting:
		return ErrChannelNotOpen
	case ChannelClosed:
		return ErrChannelClosed
	}

	c.owner.mu.Lock()
	fail := c.owner.failSends
	c.owner.mu.Unlock()
	if fail {
		return ErrSendFailed
	}

	remote := c.peerChannel()
	if remote == nil {
		return ErrChannelClosed
	}
	return remote.enqueue(append([]byte(nil), data...))
}

func (c *memChannel) enqueue(b []byte) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	c.queueMu.Lock()
	c.queue = append(c.queue, b)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

func (c *memChannel) deliverLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.queueMu.Lock()
			if len(c.queue) == 0 {
				c.queueMu.Unlock()
				break
			}
			b := c.queue[0]
			c.queue = c.queue[1:]
			c.queueMu.Unlock()
			c.emitData(b)
		}
	}
}

func (c *memChannel) stop() {
	c.once.Do(func() { close(c.done) })
	c.owner.untrack(c)
}

// fail terminates a channel that never opened.
func (c *memChannel) fail(err error) {
	c.stop()
	c.terminate(err)
}

// Close closes both ends of the link.
func (c *memChannel) Close() error {
	c.stop()
	c.terminate(nil)
	if remote := c.peerChannel(); remote != nil {
		remote.stop()
		remote.terminate(nil)
	}
	return nil
}
