package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/opd-ai/chamber/limits"
)

// IVSize is the AES-GCM nonce size used for every payload (96 bits)
const IVSize = limits.IVSize

// Sealed is an encrypted payload together with the IV it was sealed under.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
}

// GenerateIV returns a fresh random IV. An IV must never be reused under
// the same key.
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

func newGCM(key ConversationKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, &DerivationError{Op: "key import", Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &DerivationError{Op: "key import", Err: err}
	}
	return gcm, nil
}

// Encrypt seals plaintext with AES-256-GCM under key using a fresh IV.
func Encrypt(plaintext []byte, key ConversationKey) (*Sealed, error) {
	if err := limits.ValidateMessageSize(plaintext, limits.MaxAttachment); err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv, err := GenerateIV()
	if err != nil {
		return nil, err
	}

	sealed := &Sealed{
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
		IV:         iv,
	}

	NewLogger("Encrypt").
		WithFields(SecureFieldHash(sealed.Ciphertext, "ciphertext")).
		Debug("Payload sealed")

	return sealed, nil
}

// EncryptText encodes text as UTF-8, seals it and returns ciphertext and IV
// base64-encoded for text channel and storage paths.
func EncryptText(text string, key ConversationKey) (ciphertextB64, ivB64 string, err error) {
	if err := limits.ValidateTextMessage([]byte(text)); err != nil {
		return "", "", err
	}

	sealed, err := Encrypt([]byte(text), key)
	if err != nil {
		return "", "", err
	}

	return base64.StdEncoding.EncodeToString(sealed.Ciphertext),
		base64.StdEncoding.EncodeToString(sealed.IV), nil
}

// EncryptBinary seals an attachment and returns raw ciphertext and IV.
func EncryptBinary(data []byte, key ConversationKey) (*Sealed, error) {
	if err := limits.ValidateAttachment(data); err != nil {
		return nil, err
	}
	return Encrypt(data, key)
}
