package network

// PeerState is the connection state for one remote peer.
type PeerState int

const (
	// Disconnected means there is no active entry for the peer
	Disconnected PeerState = iota
	// Connecting means a channel is being negotiated
	Connecting
	// Open means the channel is usable
	Open
	// Closed means the channel was closed; the entry is gone
	Closed
	// Errored means the channel failed; the entry is gone
	Errored
)

func (s PeerState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Status summarizes the network.
type Status struct {
	Online      bool
	Connections int
	PeerID      string
}
