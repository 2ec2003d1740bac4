package messaging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/chamber/crypto"
	"github.com/opd-ai/chamber/identity"
	"github.com/opd-ai/chamber/storage"
)

// UnreadablePlaceholder stands in for text that failed to decrypt.
const UnreadablePlaceholder = "[unable to decrypt message]"

// Entry is one decrypted transcript line. Attachments are not decrypted
// here; use OpenAttachment with Message.AttachmentRef.
type Entry struct {
	Message    *storage.Message
	Text       string
	Unreadable bool
	// Err is the decryption error behind an Unreadable entry
	Err error
}

// Conversation returns the transcript with contactID, oldest first. A
// message that fails to decrypt becomes an Unreadable entry; it does not
// fail the call.
func (m *Manager) Conversation(ctx context.Context, contactID string) ([]Entry, error) {
	if err := identity.ValidatePublicID(contactID); err != nil {
		return nil, err
	}

	msgs, err := m.store.ListMessages(ctx, contactID)
	if err != nil {
		return nil, err
	}

	key, err := m.conversationKey(contactID)
	if err != nil {
		return nil, err
	}
	defer key.Wipe()

	entries := make([]Entry, 0, len(msgs))
	unreadable := 0
	for _, msg := range msgs {
		e := Entry{Message: msg}
		if !msg.Type.Binary() {
			text, err := crypto.DecryptText(msg.Ciphertext, msg.IV, key)
			if err != nil {
				e.Text = UnreadablePlaceholder
				e.Unreadable = true
				e.Err = err
				unreadable++
			} else {
				e.Text = text
			}
		}
		entries = append(entries, e)
	}

	if unreadable > 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "Conversation",
			"contact":    identity.Short(contactID),
			"unreadable": unreadable,
		}).Warn("Some messages could not be decrypted")
	}
	return entries, nil
}

// OpenAttachment loads and decrypts the attachment ref from the
// conversation with contactID.
func (m *Manager) OpenAttachment(ctx context.Context, contactID, ref string) ([]byte, *storage.Attachment, error) {
	if err := identity.ValidatePublicID(contactID); err != nil {
		return nil, nil, err
	}
	if !m.ownsAttachment(ctx, contactID, ref) {
		return nil, nil, ErrNotAttachment
	}

	att, err := m.store.GetAttachment(ctx, ref)
	if err != nil {
		return nil, nil, err
	}

	key, err := m.conversationKey(contactID)
	if err != nil {
		return nil, nil, err
	}
	defer key.Wipe()

	data, err := crypto.DecryptBinary(att.Blob, att.IV, key)
	if err != nil {
		return nil, att, err
	}
	return data, att, nil
}

func (m *Manager) ownsAttachment(ctx context.Context, contactID, ref string) bool {
	msgs, err := m.store.ListMessages(ctx, contactID)
	if err != nil {
		return false
	}
	for _, msg := range msgs {
		if msg.AttachmentRef == ref {
			return true
		}
	}
	return false
}

// IsUnreadable reports whether err means stored content could not be
// decrypted.
func IsUnreadable(err error) bool {
	return errors.Is(err, crypto.ErrDecryption)
}
