// Package network manages data channels to remote peers.
//
// A Manager sits on top of a transport.Endpoint and keeps at most one
// current channel per peer. Connect dials on demand, joins an attempt that
// is already in flight and reuses an open channel. When a channel opens,
// the Manager asks its Replayer to flush the peer's queued frames before
// anything else uses the channel, so queued messages always arrive first
// and in order.
//
// Send is the usual entry point:
//
//	delivered, err := mgr.Send(ctx, peerID, frame)
//	if err != nil {
//	    // the frame could not even be queued
//	}
//	if !delivered {
//	    // queued; it is replayed when the peer next connects
//	}
//
// Inbound frames are decoded with package wire. Malformed frames are
// logged and dropped. Valid payloads go to the Inbox for persistence and
// then to the Observer.
//
// An incoming channel normally replaces whatever entry exists for that
// peer, which lets a restarted peer reconnect. When both sides dial each
// other at once, the channel dialed by the lexically lower public ID wins;
// callers waiting on the losing channel follow the replacement.
package network
