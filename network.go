package chamber

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/messaging"
	"github.com/opd-ai/chamber/network"
	"github.com/opd-ai/chamber/signaling"
	"github.com/opd-ai/chamber/transport"
	"github.com/opd-ai/chamber/wire"
)

func (m *Messenger) isRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// busy reports whether the network is up or coming up.
func (m *Messenger) busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running || m.starting
}

// Start brings the network up under the local identity. Queued messages
// are retried in the background. The endpoint is dialed without holding
// the Messenger lock, so status queries stay responsive meanwhile.
func (m *Messenger) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.killed {
		m.mu.Unlock()
		return ErrKilled
	}
	if m.self == nil {
		m.mu.Unlock()
		return ErrNoIdentity
	}
	if m.running || m.starting {
		m.mu.Unlock()
		return network.ErrAlreadyInitialized
	}
	m.starting = true
	selfID := m.self.PublicID
	msgs := m.msgs
	m.mu.Unlock()

	mgr, sig, err := m.bringUp(ctx, selfID, msgs)

	m.mu.Lock()
	m.starting = false
	if err == nil {
		switch {
		case m.killed:
			err = ErrKilled
		case m.self == nil || m.self.PublicID != selfID:
			err = ErrNoIdentity
		}
		if err != nil {
			m.mu.Unlock()
			mgr.Shutdown()
			if sig != nil {
				sig.Close()
			}
			return err
		}
		msgs.SetTransport(messaging.TransportFunc(func(ctx context.Context, peerID string, frame []byte) (bool, error) {
			return mgr.Send(ctx, peerID, frame)
		}))
		m.net = mgr
		m.signal = sig
		m.running = true
	}
	m.mu.Unlock()
	if err != nil {
		return err
	}

	go m.RetryPending(context.Background())

	logrus.WithFields(logrus.Fields{
		"function":  "Start",
		"public_id": identity.Short(selfID),
	}).Info("Network started")
	return nil
}

// bringUp dials the endpoint and initializes a Manager over it.
func (m *Messenger) bringUp(ctx context.Context, selfID string, msgs *messaging.Manager) (*network.Manager, *signaling.Client, error) {
	ep, sig, err := m.endpoint(ctx, selfID)
	if err != nil {
		return nil, nil, err
	}

	var netOpts []network.Option
	if m.options.ConnectTimeout > 0 {
		netOpts = append(netOpts, network.WithConnectTimeout(m.options.ConnectTimeout))
	}
	mgr := network.NewManager(ep, netOpts...)
	mgr.SetQueue(msgs)
	mgr.SetReplayer(msgs)
	mgr.SetInbox(msgs)
	mgr.SetObserver(observer{m})

	if err := mgr.Init(ctx); err != nil {
		ep.Close()
		if sig != nil {
			sig.Close()
		}
		return nil, nil, err
	}
	return mgr, sig, nil
}

func (m *Messenger) endpoint(ctx context.Context, selfID string) (transport.Endpoint, *signaling.Client, error) {
	if m.options.Endpoint != nil {
		ep, err := m.options.Endpoint(ctx, selfID)
		return ep, nil, err
	}

	sig, err := signaling.Dial(ctx, m.options.SignalingURL, selfID)
	if err != nil {
		return nil, nil, err
	}
	ep := transport.NewWebRTCEndpoint(sig, transport.WebRTCConfig{
		ICEServers:     m.options.ICEServers,
		TURNUsername:   m.options.TURNUsername,
		TURNCredential: m.options.TURNCredential,
	})
	return ep, sig, nil
}

// Stop shuts the network down. Messages sent afterwards are queued.
func (m *Messenger) Stop() error {
	if !m.isRunning() {
		return ErrNotRunning
	}
	m.stopNetwork()
	return nil
}

func (m *Messenger) stopNetwork() {
	m.mu.Lock()
	mgr, sig, msgs := m.net, m.signal, m.msgs
	m.net, m.signal, m.running = nil, nil, false
	m.mu.Unlock()

	if msgs != nil {
		msgs.SetTransport(nil)
	}
	if mgr != nil {
		if err := mgr.Shutdown(); err != nil {
			logrus.WithField("function", "stopNetwork").WithError(err).Warn("Network shutdown reported an error")
		}
	}
	if sig != nil {
		sig.Close()
	}
}

func (m *Messenger) netManager() (*network.Manager, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	return m.net, nil
}

// Connect opens a channel to peerID and replays its queue.
func (m *Messenger) Connect(ctx context.Context, peerID string) error {
	mgr, err := m.netManager()
	if err != nil {
		return err
	}
	_, err = mgr.Connect(ctx, peerID)
	return err
}

// RetryPending tries to connect to every peer with queued messages; a
// successful connection replays that peer's queue. It returns how many
// peers were reached.
func (m *Messenger) RetryPending(ctx context.Context) (int, error) {
	mgr, err := m.netManager()
	if err != nil {
		return 0, err
	}

	entries, err := m.store.AllPending(ctx)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	reached := 0
	for _, e := range entries {
		if seen[e.TargetPeerID] {
			continue
		}
		seen[e.TargetPeerID] = true
		if _, err := mgr.Connect(ctx, e.TargetPeerID); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RetryPending",
				"peer":     identity.Short(e.TargetPeerID),
			}).WithError(err).Debug("Peer still unreachable")
			continue
		}
		reached++
	}
	return reached, nil
}

// IsPeerConnected reports whether an open channel to peerID exists.
func (m *Messenger) IsPeerConnected(peerID string) bool {
	mgr, err := m.netManager()
	if err != nil {
		return false
	}
	return mgr.IsPeerConnected(peerID)
}

// Status reports network state. It is offline before Start.
func (m *Messenger) Status() network.Status {
	mgr, err := m.netManager()
	if err != nil {
		return network.Status{PeerID: m.SelfID()}
	}
	return mgr.Status()
}

// observer adapts the Messenger callbacks to network.Observer.
type observer struct {
	m *Messenger
}

func (o observer) MessageReceived(peerID string, p *wire.Payload) {
	o.m.cbMu.RLock()
	cb := o.m.messageCallback
	o.m.cbMu.RUnlock()
	if cb == nil {
		return
	}

	msg := IncomingMessage{From: peerID, Type: p.Type, Name: p.Name, SentAt: p.SentAt()}
	if p.Type == wire.KindText {
		key, err := crypto.DeriveSharedKey(o.m.SelfID(), peerID)
		if err == nil {
			msg.Text, err = crypto.DecryptText(p.Content, p.IVString(), key)
			key.Wipe()
		}
		if err != nil {
			msg.Text = messaging.UnreadablePlaceholder
			msg.Unreadable = true
		}
	}
	cb(msg)
}

func (o observer) PeerConnected(peerID string) {
	o.m.cbMu.RLock()
	cb := o.m.peerConnectedCallback
	o.m.cbMu.RUnlock()
	if cb != nil {
		cb(peerID)
	}
}

func (o observer) PeerDisconnected(peerID string) {
	o.m.cbMu.RLock()
	cb := o.m.peerDisconnectedCallback
	o.m.cbMu.RUnlock()
	if cb != nil {
		cb(peerID)
	}
}
