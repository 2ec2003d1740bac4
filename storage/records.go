package storage

import (
	"time"

	"github.com/opd-ai/chamber/wire"
)

// Identity is the local user's identity record. Only the hashes of the
// recovery codes are kept; the codes themselves are never stored.
type Identity struct {
	PublicID           string    `json:"publicId"`
	RecoveryCodeHashes []string  `json:"recoveryCodeHashes"`
	DisplayName        string    `json:"displayName,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Contact is a known peer. Unique by PublicID.
type Contact struct {
	PublicID    string    `json:"publicId"`
	DisplayName string    `json:"displayName"`
	AddedAt     time.Time `json:"addedAt"`
	// LastMessagePreview is a short label of the last message kind, never plaintext
	LastMessagePreview string    `json:"lastMessagePreview,omitempty"`
	LastMessageAt      time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount        int       `json:"unreadCount"`
}

// LastActivity returns the most recent of AddedAt and LastMessageAt.
func (c *Contact) LastActivity() time.Time {
	if c.LastMessageAt.After(c.AddedAt) {
		return c.LastMessageAt
	}
	return c.AddedAt
}

// Message is one transcript entry. Text messages hold their base64
// ciphertext and IV inline; attachments reference an Attachment record.
type Message struct {
	ID        string    `json:"id"`
	ContactID string    `json:"contactId"`
	Type      wire.Kind `json:"type"`
	Sent      bool      `json:"sent"`
	// Timestamp orders the transcript: send time for outbound messages,
	// local receive time for inbound ones
	Timestamp     time.Time `json:"timestamp"`
	SentAt        time.Time `json:"sentAt"`
	Ciphertext    string    `json:"ciphertext,omitempty"`
	IV            string    `json:"iv,omitempty"`
	AttachmentRef string    `json:"attachmentRef,omitempty"`
	Name          string    `json:"name,omitempty"`
}

// Attachment is an encrypted binary blob stored apart from its message.
type Attachment struct {
	ID        string    `json:"id"`
	Kind      wire.Kind `json:"kind"`
	Blob      []byte    `json:"blob"`
	IV        []byte    `json:"iv"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueuedOutbound is an encoded payload waiting for its target to come
// online. Entries for a target are delivered in (EnqueuedAt, Seq) order.
type QueuedOutbound struct {
	ID           string    `json:"id"`
	TargetPeerID string    `json:"targetPeerId"`
	Payload      []byte    `json:"payload"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
	Seq          uint64    `json:"seq"`
}
