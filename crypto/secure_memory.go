package crypto

import (
	"crypto/subtle"
	"errors"
	"runtime"
)

// SecureWipe overwrites a byte slice holding sensitive data with zeros.
// It returns an error if the slice is nil.
func SecureWipe(data []byte) error {
	if data == nil {
		return errors.New("cannot wipe nil data")
	}

	zeros := make([]byte, len(data))
	subtle.ConstantTimeCompare(data, zeros)
	copy(data, zeros)

	runtime.KeepAlive(data)
	runtime.KeepAlive(zeros)

	return nil
}

// ZeroBytes erases a byte slice, ignoring the error from SecureWipe.
func ZeroBytes(data []byte) {
	_ = SecureWipe(data)
}

// Wipe zeroes the key in place.
func (k *ConversationKey) Wipe() {
	if k == nil {
		return
	}
	ZeroBytes(k[:])
}
