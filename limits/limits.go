// Package limits provides centralized payload size limits for chamber.
// This ensures consistent validation across the cipher, the wire codec and
// the delivery orchestrator.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxTextMessage is the largest plaintext text message accepted for sending (16 KiB)
	MaxTextMessage = 16 * 1024

	// MaxAttachment is the largest plaintext attachment accepted for sending.
	// Attachments travel as one data-channel frame, base64-encoded inside JSON,
	// so the raw limit stays well below MaxWirePayload.
	MaxAttachment = 160 * 1024

	// MaxWirePayload is the largest encoded frame accepted from or written to
	// a data channel. It matches the max-message-size advertised by pion/webrtc.
	MaxWirePayload = 256 * 1024

	// EncryptionOverhead is the AES-GCM authentication tag appended to every ciphertext
	EncryptionOverhead = 16

	// IVSize is the AEAD nonce size (96 bits)
	IVSize = 12

	// MaxDisplayName bounds identity and contact display names
	MaxDisplayName = 128
)

var (
	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTextMessage validates a plaintext text message against MaxTextMessage.
func ValidateTextMessage(message []byte) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxTextMessage {
		return fmt.Errorf("%w: text size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxTextMessage)
	}
	return nil
}

// ValidateAttachment validates a plaintext attachment against MaxAttachment.
func ValidateAttachment(data []byte) error {
	if len(data) == 0 {
		return ErrMessageEmpty
	}
	if len(data) > MaxAttachment {
		return fmt.Errorf("%w: attachment size %d exceeds limit %d", ErrMessageTooLarge, len(data), MaxAttachment)
	}
	return nil
}

// ValidateWirePayload validates an encoded frame against MaxWirePayload.
// All data received from a peer must pass this check before decoding.
func ValidateWirePayload(frame []byte) error {
	if len(frame) == 0 {
		return ErrMessageEmpty
	}
	if len(frame) > MaxWirePayload {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrMessageTooLarge, len(frame), MaxWirePayload)
	}
	return nil
}

// ValidateDisplayName checks a display name against MaxDisplayName.
// Empty names are allowed; callers substitute a default.
func ValidateDisplayName(name string) error {
	if len(name) > MaxDisplayName {
		return fmt.Errorf("%w: display name length %d exceeds limit %d", ErrMessageTooLarge, len(name), MaxDisplayName)
	}
	return nil
}
