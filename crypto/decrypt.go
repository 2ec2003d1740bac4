package crypto

import (
	"encoding/base64"
	"unicode/utf8"
)

// Decrypt opens an AES-256-GCM payload. Any failure, including a wrong key,
// a wrong IV or a modified ciphertext, yields a *DecryptionError; garbage is
// never returned.
func Decrypt(ciphertext, iv []byte, key ConversationKey) ([]byte, error) {
	logger := NewLogger("Decrypt")

	if len(ciphertext) == 0 {
		return nil, &DecryptionError{Reason: "empty ciphertext"}
	}
	if len(iv) != IVSize {
		return nil, &DecryptionError{Reason: "bad IV", Err: ErrInvalidIV}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		logger.WithFields(SecureFieldHash(ciphertext, "ciphertext")).
			WithError(err, "gcm open").
			Warn("Authentication failed")
		return nil, &DecryptionError{Reason: "message authentication failed", Err: err}
	}

	return plaintext, nil
}

// DecryptText reverses EncryptText. Malformed base64 and non-UTF-8 output are
// reported as decryption failures too.
func DecryptText(ciphertextB64, ivB64 string, key ConversationKey) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &DecryptionError{Reason: "ciphertext is not base64", Err: err}
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", &DecryptionError{Reason: "IV is not base64", Err: err}
	}

	plaintext, err := Decrypt(ciphertext, iv, key)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		return "", &DecryptionError{Reason: "plaintext is not UTF-8"}
	}
	return string(plaintext), nil
}

// DecryptBinary opens an attachment sealed by EncryptBinary.
func DecryptBinary(ciphertext, iv []byte, key ConversationKey) ([]byte, error) {
	return Decrypt(ciphertext, iv, key)
}
