package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/wire"
)

// Transport delivers an encoded frame to a peer. It reports false with a
// nil error when the frame was queued instead of delivered.
type Transport interface {
	Send(ctx context.Context, peerID string, frame []byte) (bool, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, peerID string, frame []byte) (bool, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, peerID string, frame []byte) (bool, error) {
	return f(ctx, peerID, frame)
}

// SendResult is the outcome of a send. Message is always persisted, even
// when Delivered is false.
type SendResult struct {
	Message   *storage.Message
	Delivered bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeProvider sets the clock used for message timestamps.
func WithTimeProvider(tp crypto.TimeProvider) Option {
	return func(m *Manager) {
		if tp != nil {
			m.timeProvider = tp
		}
	}
}

// WithReplayFilter drops inbound frames whose (peer, IV) pair was already
// stored.
func WithReplayFilter(f *crypto.ReplayFilter) Option {
	return func(m *Manager) {
		m.replayFilter = f
	}
}

// Manager encrypts, persists and sends messages for one local identity,
// and stores what arrives. It implements network.Queue, network.Replayer
// and network.Inbox.
type Manager struct {
	store        *storage.Store
	selfID       string
	timeProvider crypto.TimeProvider
	replayFilter *crypto.ReplayFilter

	mu        sync.RWMutex
	transport Transport

	replayMu    sync.Mutex
	replayLocks map[string]*sync.Mutex
}

// NewManager creates a Manager for selfID backed by store.
func NewManager(store *storage.Store, selfID string, opts ...Option) (*Manager, error) {
	if err := identity.ValidatePublicID(selfID); err != nil {
		return nil, fmt.Errorf("invalid local identity: %w", err)
	}
	m := &Manager{
		store:        store,
		selfID:       selfID,
		timeProvider: crypto.DefaultTimeProvider{},
		replayLocks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SetTransport sets how frames leave this node. Without a transport every
// send is queued.
func (m *Manager) SetTransport(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = t
}

func (m *Manager) getTransport() Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transport
}

func (m *Manager) conversationKey(contactID string) (crypto.ConversationKey, error) {
	return crypto.DeriveSharedKey(m.selfID, contactID)
}

func (m *Manager) checkRecipient(contactID string) error {
	if err := identity.ValidatePublicID(contactID); err != nil {
		return err
	}
	if contactID == m.selfID {
		return ErrSelfMessage
	}
	return nil
}

// SendText encrypts text for contactID, stores it and attempts delivery.
func (m *Manager) SendText(ctx context.Context, contactID, text string) (*SendResult, error) {
	if err := m.checkRecipient(contactID); err != nil {
		return nil, err
	}

	key, err := m.conversationKey(contactID)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	ct, iv, err := crypto.EncryptText(text, key)
	if err != nil {
		return nil, err
	}

	now := m.timeProvider.Now()
	msg := &storage.Message{
		ID:         storage.NewID(),
		ContactID:  contactID,
		Type:       wire.KindText,
		Sent:       true,
		Timestamp:  now,
		SentAt:     now,
		Ciphertext: ct,
		IV:         iv,
	}

	p, err := wire.NewText(ct, iv, now)
	if err != nil {
		return nil, err
	}
	return m.persistAndSend(ctx, msg, p)
}

// SendAttachment encrypts data as an attachment of the given kind, stores
// it and attempts delivery.
func (m *Manager) SendAttachment(ctx context.Context, contactID string, data []byte, kind wire.Kind, name string) (*SendResult, error) {
	if err := m.checkRecipient(contactID); err != nil {
		return nil, err
	}
	if !kind.Binary() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	key, err := m.conversationKey(contactID)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	sealed, err := crypto.EncryptBinary(data, key)
	if err != nil {
		return nil, err
	}

	now := m.timeProvider.Now()
	p, err := wire.NewBinary(kind, sealed.Ciphertext, sealed.IV, name, now)
	if err != nil {
		return nil, err
	}

	att := &storage.Attachment{
		ID:        storage.NewID(),
		Kind:      kind,
		Blob:      sealed.Ciphertext,
		IV:        sealed.IV,
		Name:      name,
		CreatedAt: now,
	}
	if err := m.store.PutAttachment(ctx, att); err != nil {
		return nil, err
	}

	msg := &storage.Message{
		ID:            storage.NewID(),
		ContactID:     contactID,
		Type:          kind,
		Sent:          true,
		Timestamp:     now,
		SentAt:        now,
		AttachmentRef: att.ID,
		Name:          name,
	}
	return m.persistAndSend(ctx, msg, p)
}

// persistAndSend stores msg before any delivery attempt is made.
func (m *Manager) persistAndSend(ctx context.Context, msg *storage.Message, p *wire.Payload) (*SendResult, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function":   "persistAndSend",
		"contact":    identity.Short(msg.ContactID),
		"type":       msg.Type,
		"message_id": msg.ID,
	})

	frame, err := wire.Encode(p)
	if err != nil {
		return nil, err
	}

	if err := m.store.AddMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := m.touchContact(ctx, msg.ContactID, msg.Type, msg.Timestamp, false); err != nil {
		logger.WithError(err).Warn("Failed to update contact preview")
	}

	result := &SendResult{Message: msg}

	t := m.getTransport()
	if t == nil {
		if err := m.Enqueue(ctx, msg.ContactID, frame); err != nil {
			return result, err
		}
		logger.Debug("No transport, message queued")
		return result, nil
	}

	delivered, err := t.Send(ctx, msg.ContactID, frame)
	result.Delivered = delivered
	if err != nil {
		logger.WithError(err).Error("Message stored but could not be delivered or queued")
		return result, err
	}
	logger.WithField("delivered", delivered).Debug("Message sent")
	return result, nil
}

// Preview returns the contact list label for a message kind. Plaintext is
// never used as a preview.
func Preview(kind wire.Kind) string {
	switch kind {
	case wire.KindText:
		return "Message"
	case wire.KindImage:
		return "Photo"
	case wire.KindAudio:
		return "Voice message"
	case wire.KindFile:
		return "File"
	}
	return ""
}

// touchContact records activity on an existing contact. Unknown peers are
// left alone.
func (m *Manager) touchContact(ctx context.Context, contactID string, kind wire.Kind, at time.Time, inbound bool) error {
	_, err := m.store.UpdateContact(ctx, contactID, func(c *storage.Contact) error {
		c.LastMessagePreview = Preview(kind)
		c.LastMessageAt = at
		if inbound {
			c.UnreadCount++
		}
		return nil
	})
	if errors.Is(err, storage.ErrContactNotFound) {
		return nil
	}
	return err
}
