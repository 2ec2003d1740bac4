package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrChannelNotOpen is returned by Send before the channel has opened
	ErrChannelNotOpen = errors.New("channel not open")
	// ErrChannelClosed is returned by Send after the channel closed or failed
	ErrChannelClosed = errors.New("channel closed")
	// ErrPeerUnavailable is reported when the remote peer cannot be reached
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrEndpointClosed is returned by Dial after the endpoint was closed
	ErrEndpointClosed = errors.New("endpoint closed")
)

// ChannelState is the lifecycle state of a data channel.
type ChannelState int

const (
	// ChannelConnecting is the state between Dial and open
	ChannelConnecting ChannelState = iota
	// ChannelOpen means Send may be used
	ChannelOpen
	// ChannelClosed is terminal, after close or error
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	}
	return "unknown"
}

// Channel is a reliable, ordered, message-oriented link to one remote peer.
//
// Handlers may be registered at any time. OnOpen fires immediately when the
// channel is already open; data received before an OnData handler exists is
// buffered and flushed to it in order. Exactly one of the OnClose or OnError
// handlers fires when the channel terminates, including when it terminated
// before the handler was registered.
type Channel interface {
	// RemotePeer returns the public ID of the other side.
	RemotePeer() string
	// Open reports whether the channel is currently open.
	Open() bool
	// Send transmits one message.
	Send(data []byte) error
	OnOpen(func())
	OnData(func([]byte))
	OnClose(func())
	OnError(func(error))
	// Close terminates the channel. The OnClose handler fires.
	Close() error
}

// Endpoint is the local side of the peer network, addressed by the local
// public ID.
type Endpoint interface {
	// LocalPeer returns the public ID this endpoint is reachable at.
	LocalPeer() string
	// Dial starts connecting to peer and returns the pending channel.
	// Failures after Dial returns are reported through the channel's
	// OnError handler.
	Dial(ctx context.Context, peer string) (Channel, error)
	// OnIncoming registers the handler for channels opened by remote
	// peers. The handler runs before the channel reports open.
	OnIncoming(func(Channel))
	// Close shuts the endpoint down and terminates its channels.
	Close() error
}

// channelEvents implements handler registration, buffering and one-shot
// terminal events shared by the Channel implementations.
type channelEvents struct {
	mu      sync.Mutex
	deliver sync.Mutex
	state   ChannelState
	termErr error

	onOpen  func()
	onData  func([]byte)
	onClose func()
	onError func(error)
	backlog [][]byte
}

func (ev *channelEvents) State() ChannelState {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.state
}

func (ev *channelEvents) Open() bool {
	return ev.State() == ChannelOpen
}

func (ev *channelEvents) OnOpen(fn func()) {
	ev.mu.Lock()
	ev.onOpen = fn
	open := ev.state == ChannelOpen
	ev.mu.Unlock()
	if open && fn != nil {
		fn()
	}
}

func (ev *channelEvents) OnData(fn func([]byte)) {
	ev.deliver.Lock()
	defer ev.deliver.Unlock()

	ev.mu.Lock()
	ev.onData = fn
	backlog := ev.backlog
	if fn != nil {
		ev.backlog = nil
	}
	ev.mu.Unlock()

	if fn == nil {
		return
	}
	for _, b := range backlog {
		fn(b)
	}
}

func (ev *channelEvents) OnClose(fn func()) {
	ev.mu.Lock()
	ev.onClose = fn
	fire := ev.state == ChannelClosed && ev.termErr == nil
	ev.mu.Unlock()
	if fire && fn != nil {
		fn()
	}
}

func (ev *channelEvents) OnError(fn func(error)) {
	ev.mu.Lock()
	ev.onError = fn
	err := ev.termErr
	fire := ev.state == ChannelClosed && err != nil
	ev.mu.Unlock()
	if fire && fn != nil {
		fn(err)
	}
}

// emitOpen moves a connecting channel to open. It reports whether the
// transition happened.
func (ev *channelEvents) emitOpen() bool {
	ev.mu.Lock()
	if ev.state != ChannelConnecting {
		ev.mu.Unlock()
		return false
	}
	ev.state = ChannelOpen
	fn := ev.onOpen
	ev.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}

func (ev *channelEvents) emitData(b []byte) {
	ev.deliver.Lock()
	defer ev.deliver.Unlock()

	ev.mu.Lock()
	if ev.state == ChannelClosed {
		ev.mu.Unlock()
		return
	}
	fn := ev.onData
	if fn == nil {
		ev.backlog = append(ev.backlog, b)
		ev.mu.Unlock()
		return
	}
	ev.mu.Unlock()
	fn(b)
}

// terminate moves the channel to closed. A nil err fires OnClose, anything
// else OnError. Only the first call has an effect.
func (ev *channelEvents) terminate(err error) bool {
	ev.mu.Lock()
	if ev.state == ChannelClosed {
		ev.mu.Unlock()
		return false
	}
	ev.state = ChannelClosed
	ev.termErr = err
	ev.backlog = nil
	onClose, onError := ev.onClose, ev.onError
	ev.mu.Unlock()

	if err == nil {
		if onClose != nil {
			onClose()
		}
	} else if onError != nil {
		onError(err)
	}
	return true
}
