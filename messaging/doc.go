// Package messaging turns plaintext into stored, encrypted, delivered
// messages and back.
//
// # Overview
//
// A [Manager] belongs to one local identity. For every send it derives the
// conversation key from the two public IDs, encrypts with AES-256-GCM and
// a fresh IV, stores the ciphertext and only then hands the encoded
// [wire.Payload] to its [Transport]. When the transport cannot reach the
// peer the frame lands in the outbound queue and is replayed, in order,
// the next time a channel to that peer opens.
//
// The Manager plugs into a network.Manager as its Queue, Replayer and
// Inbox:
//
//	msgs, err := messaging.NewManager(store, selfID)
//	if err != nil {
//	    return err
//	}
//	net.SetQueue(msgs)
//	net.SetReplayer(msgs)
//	net.SetInbox(msgs)
//	msgs.SetTransport(messaging.TransportFunc(func(ctx context.Context, peer string, frame []byte) (bool, error) {
//	    return net.Send(ctx, peer, frame)
//	}))
//
// # Delivery
//
// Delivery is at least once. A queued entry is removed only after the
// channel accepted it, so a crash between the two can deliver a message
// twice. Replay passes for one peer are serialized; the first failure
// stops the pass with a [QueueReplayError] and leaves the rest queued.
//
// # Reading
//
// Nothing is stored in plaintext. [Manager.Conversation] decrypts the
// transcript on demand and replaces text it cannot authenticate with
// [UnreadablePlaceholder]. Contact previews hold a label for the message
// kind (see [Preview]), never message content.
package messaging
