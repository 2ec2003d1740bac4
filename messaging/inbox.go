package messaging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/wire"
)

// Receive stores a validated inbound payload from peerID. The transcript
// position is the local receive time; the sender's clock is kept in
// SentAt. Messages from peers that are not contacts are stored without
// creating a contact. With a replay filter a redelivered frame returns
// ErrDuplicate and is not stored again.
func (m *Manager) Receive(ctx context.Context, peerID string, p *wire.Payload) error {
	if err := identity.ValidatePublicID(peerID); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if m.replayFilter != nil {
		if !m.replayFilter.CheckAndRemember(peerID, p.IV) {
			return ErrDuplicate
		}
	}
	if err := m.persistInbound(ctx, peerID, p); err != nil {
		if m.replayFilter != nil {
			m.replayFilter.Forget(peerID, p.IV)
		}
		return err
	}
	return nil
}

// persistInbound stores the message, its attachment and the contact update.
func (m *Manager) persistInbound(ctx context.Context, peerID string, p *wire.Payload) error {
	now := m.timeProvider.Now()
	msg := &storage.Message{
		ID:        storage.NewID(),
		ContactID: peerID,
		Type:      p.Type,
		Sent:      false,
		Timestamp: now,
		SentAt:    p.SentAt(),
		Name:      p.Name,
	}

	if p.Type.Binary() {
		att := &storage.Attachment{
			ID:        storage.NewID(),
			Kind:      p.Type,
			Blob:      p.Blob,
			IV:        p.IV,
			Name:      p.Name,
			CreatedAt: now,
		}
		if err := m.store.PutAttachment(ctx, att); err != nil {
			return err
		}
		msg.AttachmentRef = att.ID
	} else {
		msg.Ciphertext = p.Content
		msg.IV = p.IVString()
	}

	if err := m.store.AddMessage(ctx, msg); err != nil {
		return err
	}

	logger := logrus.WithFields(logrus.Fields{
		"function":   "Receive",
		"peer":       identity.Short(peerID),
		"type":       p.Type,
		"message_id": msg.ID,
	})
	if err := m.touchContact(ctx, peerID, p.Type, now, true); err != nil {
		logger.WithError(err).Warn("Failed to update contact after receive")
	}
	logger.Debug("Message received")
	return nil
}
