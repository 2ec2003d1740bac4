package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/signaling"
)

// DataChannelLabel is the label of the single data channel opened per peer.
const DataChannelLabel = "chamber"

// ErrConnectionFailed is reported when ICE or DTLS negotiation fails.
var ErrConnectionFailed = errors.New("peer connection failed")

// Signaler relays session descriptions to other peers. *signaling.Client
// implements it.
type Signaler interface {
	Self() string
	Send(env signaling.Envelope) error
	OnEnvelope(func(signaling.Envelope))
}

// WebRTCConfig holds the ICE settings for peer connections.
type WebRTCConfig struct {
	ICEServers     []string
	TURNUsername   string
	TURNCredential string
}

// DefaultICEServers are the public STUN servers used when none are configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:global.stun.twilio.com:3478",
}

func (c WebRTCConfig) configuration() webrtc.Configuration {
	urls := c.ICEServers
	if len(urls) == 0 {
		urls = DefaultICEServers
	}

	var stun, turn []string
	for _, u := range urls {
		if len(u) >= 4 && (u[:4] == "turn") {
			turn = append(turn, u)
		} else {
			stun = append(stun, u)
		}
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:           turn,
			Username:       c.TURNUsername,
			Credential:     c.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: servers}
}

// WebRTCEndpoint connects to peers over WebRTC data channels, negotiating
// sessions through a Signaler. Candidates are gathered before the
// description is sent, so a single offer/answer pair suffices.
type WebRTCEndpoint struct {
	signal Signaler
	config webrtc.Configuration

	mu         sync.Mutex
	dialing    map[string]*rtcChannel
	channels   map[*rtcChannel]struct{}
	onIncoming func(Channel)
	closed     bool
}

// NewWebRTCEndpoint creates an endpoint that negotiates through signal.
func NewWebRTCEndpoint(signal Signaler, cfg WebRTCConfig) *WebRTCEndpoint {
	e := &WebRTCEndpoint{
		signal:   signal,
		config:   cfg.configuration(),
		dialing:  make(map[string]*rtcChannel),
		channels: make(map[*rtcChannel]struct{}),
	}
	signal.OnEnvelope(e.handleEnvelope)
	return e
}

// LocalPeer implements Endpoint.
func (e *WebRTCEndpoint) LocalPeer() string { return e.signal.Self() }

// OnIncoming implements Endpoint.
func (e *WebRTCEndpoint) OnIncoming(fn func(Channel)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onIncoming = fn
}

// Dial implements Endpoint.
func (e *WebRTCEndpoint) Dial(ctx context.Context, peer string) (Channel, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}
	e.mu.Unlock()

	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ordered := true
	dc, err := pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}

	ch := newRTCChannel(e, peer, pc)
	ch.bind(dc)

	e.mu.Lock()
	if prev := e.dialing[peer]; prev != nil {
		e.mu.Unlock()
		pc.Close()
		return nil, fmt.Errorf("dial to %s already in progress", identity.Short(peer))
	}
	e.dialing[peer] = ch
	e.channels[ch] = struct{}{}
	e.mu.Unlock()

	go e.offer(ctx, ch)
	return ch, nil
}

func (e *WebRTCEndpoint) offer(ctx context.Context, ch *rtcChannel) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "WebRTCEndpoint.offer",
		"peer":     identity.Short(ch.peer),
	})

	offer, err := ch.pc.CreateOffer(nil)
	if err != nil {
		ch.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	gathered := webrtc.GatheringCompletePromise(ch.pc)
	if err := ch.pc.SetLocalDescription(offer); err != nil {
		ch.fail(fmt.Errorf("set local description: %w", err))
		return
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		ch.fail(ctx.Err())
		return
	}

	err = e.signal.Send(signaling.Envelope{
		Type: signaling.TypeOffer,
		To:   ch.peer,
		SDP:  ch.pc.LocalDescription().SDP,
	})
	if err != nil {
		ch.fail(err)
		return
	}
	logger.Debug("Offer sent")
}

func (e *WebRTCEndpoint) handleEnvelope(env signaling.Envelope) {
	switch env.Type {
	case signaling.TypeOffer:
		go e.answer(env)
	case signaling.TypeAnswer:
		e.mu.Lock()
		ch := e.dialing[env.From]
		e.mu.Unlock()
		if ch == nil {
			return
		}
		err := ch.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: env.SDP})
		if err != nil {
			ch.fail(fmt.Errorf("set remote description: %w", err))
		}
	case signaling.TypeError:
		e.mu.Lock()
		ch := e.dialing[env.From]
		e.mu.Unlock()
		if ch != nil {
			ch.fail(ErrPeerUnavailable)
		}
	}
}

func (e *WebRTCEndpoint) answer(env signaling.Envelope) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "WebRTCEndpoint.answer",
		"peer":     identity.Short(env.From),
	})

	if identity.ValidatePublicID(env.From) != nil {
		logger.Warn("Ignoring offer from invalid ID")
		return
	}

	e.mu.Lock()
	closed := e.closed
	incoming := e.onIncoming
	e.mu.Unlock()
	if closed || incoming == nil {
		return
	}

	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		logger.WithError(err).Error("Failed to create peer connection")
		return
	}

	ch := newRTCChannel(e, env.From, pc)
	e.mu.Lock()
	e.channels[ch] = struct{}{}
	e.mu.Unlock()

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != DataChannelLabel {
			dc.Close()
			return
		}
		incoming(ch)
		ch.bind(dc)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: env.SDP}); err != nil {
		ch.fail(fmt.Errorf("set remote description: %w", err))
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		ch.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		ch.fail(fmt.Errorf("set local description: %w", err))
		return
	}
	<-gathered

	if err := e.signal.Send(signaling.Envelope{
		Type: signaling.TypeAnswer,
		To:   env.From,
		SDP:  pc.LocalDescription().SDP,
	}); err != nil {
		ch.fail(err)
		return
	}
	logger.Debug("Answer sent")
}

func (e *WebRTCEndpoint) forget(ch *rtcChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, ch)
	if e.dialing[ch.peer] == ch {
		delete(e.dialing, ch.peer)
	}
}

func (e *WebRTCEndpoint) opened(ch *rtcChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dialing[ch.peer] == ch {
		delete(e.dialing, ch.peer)
	}
}

// Close implements Endpoint.
func (e *WebRTCEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	chans := make([]*rtcChannel, 0, len(e.channels))
	for ch := range e.channels {
		chans = append(chans, ch)
	}
	e.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
	return nil
}

type rtcChannel struct {
	channelEvents
	endpoint *WebRTCEndpoint
	peer     string
	pc       *webrtc.PeerConnection

	dcMu sync.Mutex
	dc   *webrtc.DataChannel
}

func newRTCChannel(e *WebRTCEndpoint, peer string, pc *webrtc.PeerConnection) *rtcChannel {
	ch := &rtcChannel{endpoint: e, peer: peer, pc: pc}
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed:
			ch.fail(ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			ch.finish(nil)
		}
	})
	return ch
}

func (c *rtcChannel) bind(dc *webrtc.DataChannel) {
	c.dcMu.Lock()
	c.dc = dc
	c.dcMu.Unlock()

	dc.OnOpen(func() {
		if c.emitOpen() {
			c.endpoint.opened(c)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.emitData(msg.Data)
	})
	dc.OnClose(func() { c.finish(nil) })
	dc.OnError(func(err error) { c.fail(err) })

	if dc.ReadyState() == webrtc.DataChannelStateOpen && c.emitOpen() {
		c.endpoint.opened(c)
	}
}

func (c *rtcChannel) RemotePeer() string { return c.peer }

func (c *rtcChannel) Send(data []byte) error {
	switch c.State() {
	case ChannelConnecting:
		return ErrChannelNotOpen
	case ChannelClosed:
		return ErrChannelClosed
	}
	c.dcMu.Lock()
	dc := c.dc
	c.dcMu.Unlock()
	if dc == nil {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *rtcChannel) fail(err error) {
	c.finish(err)
}

func (c *rtcChannel) finish(err error) {
	if !c.terminate(err) {
		return
	}
	c.endpoint.forget(c)
	go c.pc.Close()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "rtcChannel.finish",
			"peer":     identity.Short(c.peer),
			"error":    err.Error(),
		}).Debug("Data channel failed")
	}
}

func (c *rtcChannel) Close() error {
	c.finish(nil)
	return nil
}
