package network

import (
	"context"

	"github.com/opd-ai/chamber/wire"
)

// Queue stores frames that could not be delivered.
type Queue interface {
	Enqueue(ctx context.Context, peerID string, frame []byte) error
}

// Replayer flushes queued frames for a peer once its channel opens. send
// writes one frame directly to the channel, bypassing the queue.
type Replayer interface {
	ReplayQueue(ctx context.Context, peerID string, send func([]byte) error) error
}

// Inbox persists valid inbound payloads.
type Inbox interface {
	Receive(ctx context.Context, peerID string, p *wire.Payload) error
}

// Observer is notified of connectivity and inbound messages. Calls may
// come from any goroutine.
type Observer interface {
	MessageReceived(peerID string, p *wire.Payload)
	PeerConnected(peerID string)
	PeerDisconnected(peerID string)
}
