// Package signaling implements the rendezvous service peers use to find
// each other before a direct data channel exists.
//
// Each peer registers over a websocket under its public ID
// (GET /ws?id=<publicID>). A second registration of the same ID is refused
// with 409 Conflict. Registered peers exchange offer and answer Envelopes;
// the server stamps From with the sender's ID and relays the envelope to
// To. When To is not connected the sender gets back an error envelope
// whose From names the missing peer and whose Error is "peer unavailable".
//
// The server only relays session descriptions. Message payloads travel over
// the peer-to-peer data channel and never pass through it.
//
//	srv := signaling.NewServer(logrus.StandardLogger())
//	http.ListenAndServe(":9000", srv.Handler())
//
//	client, err := signaling.Dial(ctx, "ws://localhost:9000", myID)
//	client.OnEnvelope(func(env signaling.Envelope) { ... })
package signaling
