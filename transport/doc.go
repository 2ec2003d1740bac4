// Package transport provides the peer-to-peer data channels chamber
// messages travel over.
//
// # Architecture
//
// Peers are addressed by their public ID. An Endpoint is the local side of
// the network: it dials remote peers and accepts channels they open. A
// Channel is a reliable, ordered, message-oriented link to one peer:
//
//	type Endpoint interface {
//	    LocalPeer() string
//	    Dial(ctx context.Context, peer string) (Channel, error)
//	    OnIncoming(func(Channel))
//	    Close() error
//	}
//
// Dial returns immediately with a pending channel. The outcome arrives
// through the channel's handlers: OnOpen when the link is usable, OnError
// when the peer could not be reached or negotiation failed, OnClose when
// either side hangs up. Handlers registered late still observe the current
// state, and data received before OnData is set is buffered.
//
// # Implementations
//
// WebRTCEndpoint uses pion/webrtc data channels. Session descriptions are
// exchanged through a Signaler (normally a *signaling.Client); ICE
// candidates are gathered up front so one offer and one answer complete
// the negotiation. STUN and TURN servers come from WebRTCConfig:
//
//	client, _ := signaling.Dial(ctx, "wss://signal.example.com", myID)
//	ep := transport.NewWebRTCEndpoint(client, transport.WebRTCConfig{
//	    ICEServers: []string{"stun:stun.l.google.com:19302"},
//	})
//
// MemoryNetwork connects endpoints inside one process. Endpoints can be
// taken offline, made unresponsive or made to fail sends, which is how the
// delivery and reconnect paths are tested:
//
//	network := transport.NewMemoryNetwork()
//	alice := network.Endpoint(aliceID)
//	bob := network.Endpoint(bobID)
//	bob.SetOnline(false)
package transport
