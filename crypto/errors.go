package crypto

import (
	"errors"
	"fmt"
)

var (
	// ErrDecryption is matched by every DecryptionError via errors.Is
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidIV indicates an IV that is not IVSize bytes
	ErrInvalidIV = errors.New("invalid IV size")
	// ErrEmptyID indicates key derivation was attempted with an empty ID
	ErrEmptyID = errors.New("empty public ID")
)

// DecryptionError reports that a payload could not be opened: it was
// tampered with, or the key or IV is wrong. Callers should render the
// message as unreadable and carry on.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "decryption failed: " + e.Reason
}

// Is makes errors.Is(err, ErrDecryption) true for any DecryptionError.
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

func (e *DecryptionError) Unwrap() error { return e.Err }

// DerivationError wraps a failure while deriving or importing key material.
type DerivationError struct {
	Op  string
	Err error
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("key derivation failed during %s: %v", e.Op, e.Err)
}

func (e *DerivationError) Unwrap() error { return e.Err }
