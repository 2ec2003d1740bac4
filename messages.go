package chamber

import (
	"context"

	"github.com/opd-ai/chamber/messaging"
	"github.com/opd-ai/chamber/storage"
	"github.com/opd-ai/chamber/wire"
)

// SendText encrypts and sends text to contactID. The message is stored
// first; when the peer is unreachable it is queued and Delivered is false.
func (m *Messenger) SendText(ctx context.Context, contactID, text string) (*messaging.SendResult, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}
	return msgs.SendText(ctx, contactID, text)
}

// SendAttachment encrypts and sends a binary attachment to contactID.
func (m *Messenger) SendAttachment(ctx context.Context, contactID string, data []byte, kind wire.Kind, name string) (*messaging.SendResult, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}
	return msgs.SendAttachment(ctx, contactID, data, kind, name)
}

// Conversation returns the decrypted transcript with contactID.
func (m *Messenger) Conversation(ctx context.Context, contactID string) ([]messaging.Entry, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}
	return msgs.Conversation(ctx, contactID)
}

// OpenAttachment decrypts an attachment from the conversation with
// contactID.
func (m *Messenger) OpenAttachment(ctx context.Context, contactID, ref string) ([]byte, *storage.Attachment, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, nil, err
	}
	return msgs.OpenAttachment(ctx, contactID, ref)
}

// Pending returns the messages still queued for peerID.
func (m *Messenger) Pending(ctx context.Context, peerID string) ([]*storage.QueuedOutbound, error) {
	msgs, err := m.messages()
	if err != nil {
		return nil, err
	}
	return msgs.Pending(ctx, peerID)
}

// Stats counts the stored records.
func (m *Messenger) Stats(ctx context.Context) (storage.StorageStats, error) {
	return m.store.Stats(ctx)
}
