package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// KeySize is the size of a conversation key (AES-256)
const KeySize = 32

// ConversationKey is the symmetric key shared by the two peers of a
// conversation. It is recomputed on demand and never persisted.
type ConversationKey [KeySize]byte

// DeriveSharedKey derives the conversation key for two public IDs: the IDs
// are sorted, concatenated and hashed with SHA-256, and the digest is used
// as raw AES-256 key material. DeriveSharedKey(a, b) == DeriveSharedKey(b, a).
//
// There is no handshake, so there is no forward secrecy: anyone who knows
// both IDs can compute the key.
func DeriveSharedKey(idA, idB string) (ConversationKey, error) {
	logger := NewLogger("DeriveSharedKey")

	if idA == "" || idB == "" {
		logger.Warn("Refusing to derive key from empty ID")
		return ConversationKey{}, &DerivationError{Op: "pair ordering", Err: ErrEmptyID}
	}

	first, second := idA, idB
	if strings.Compare(first, second) > 0 {
		first, second = second, first
	}

	key := ConversationKey(sha256.Sum256([]byte(first + second)))

	logger.WithField("key_fingerprint", key.Fingerprint()).Debug("Derived conversation key")
	return key, nil
}

// Fingerprint returns a short hex digest of the key, safe to show or log.
func (k ConversationKey) Fingerprint() string {
	digest := sha256.Sum256(k[:])
	return hex.EncodeToString(digest[:4])
}
