package signaling

import "errors"

// EnvelopeType identifies a signaling message.
type EnvelopeType string

const (
	// TypeOffer carries an SDP offer from the dialing peer
	TypeOffer EnvelopeType = "offer"
	// TypeAnswer carries the SDP answer back to the dialing peer
	TypeAnswer EnvelopeType = "answer"
	// TypeError reports a routing failure; From names the unreachable peer
	TypeError EnvelopeType = "error"
)

// ErrorPeerUnavailable is the Error text sent when the target is not connected.
const ErrorPeerUnavailable = "peer unavailable"

var (
	// ErrDuplicateID is returned when the public ID is already registered
	ErrDuplicateID = errors.New("public ID already connected to signaling server")
	// ErrClientClosed is returned by Send after the client closed
	ErrClientClosed = errors.New("signaling client closed")
)

// Envelope is one message relayed by the signaling server. The server
// overwrites From with the sender's registered ID.
type Envelope struct {
	Type  EnvelopeType `json:"type"`
	From  string       `json:"from,omitempty"`
	To    string       `json:"to,omitempty"`
	SDP   string       `json:"sdp,omitempty"`
	Error string       `json:"error,omitempty"`
}
