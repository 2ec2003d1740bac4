// Package chamber is a peer-to-peer encrypted messenger core.
//
// An identity is derived from twelve random recovery codes: the public ID
// is the SHA-256 of the sorted, concatenated codes, and the same codes
// recover it on another device. Every pair of public IDs shares a
// conversation key, so no key exchange is needed. Messages travel directly
// between peers over WebRTC data channels; a small signaling server only
// brokers the connection setup.
//
// # Getting Started
//
//	options := chamber.NewOptions()
//	options.StoreBackend = config.BackendLevelDB
//	options.DataDir = "/home/alice/.config/chamber"
//	options.SignalingURL = "https://signal.example.org"
//
//	m, err := chamber.New(ctx, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Kill()
//
//	res, err := m.Bootstrap(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if res.Created {
//	    fmt.Println("Write these down:", res.Codes)
//	}
//
//	m.OnMessage(func(msg chamber.IncomingMessage) {
//	    fmt.Printf("%s: %s\n", msg.From[:8], msg.Text)
//	})
//	if err := m.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := m.SendText(ctx, peerID, "hello")
//	if err == nil && !result.Delivered {
//	    fmt.Println("queued until the peer comes online")
//	}
//
// # Offline Delivery
//
// Every outgoing message is encrypted and stored before it is sent. If the
// peer cannot be reached it goes to a persistent queue and is replayed, in
// order, the next time a channel to that peer opens, whichever side
// initiates it. Delivery is at least once.
//
// # Storage
//
// State lives in a key-value store: LevelDB for a normal client, Redis for
// headless deployments, or memory for tests. Only ciphertext is stored.
// [Messenger.Export] and [Messenger.Import] move the whole store, optionally
// sealed under a passphrase.
package chamber
