package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2Iterations is the number of iterations for passphrase key derivation
	PBKDF2Iterations = 100000
	// BackupVersion is the current sealed backup format version
	BackupVersion = 1
	// SaltSize is the size of the PBKDF2 salt
	SaltSize = 32

	backupHeaderSize = 2 + SaltSize + IVSize
)

var (
	// ErrEmptyPassphrase is returned when sealing or opening without a passphrase
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")
	// ErrBackupFormat indicates a sealed backup that is truncated or of an unknown version
	ErrBackupFormat = errors.New("invalid backup format")
)

// SealBackup encrypts an exported snapshot under a passphrase.
// Format: [version:2][salt:32][nonce:12][ciphertext+tag:N]
func SealBackup(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := passphraseGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	nonce, err := GenerateIV()
	if err != nil {
		return nil, err
	}

	out := make([]byte, backupHeaderSize, backupHeaderSize+len(plaintext)+gcm.Overhead())
	binary.BigEndian.PutUint16(out[0:2], BackupVersion)
	copy(out[2:2+SaltSize], salt)
	copy(out[2+SaltSize:backupHeaderSize], nonce)
	out = gcm.Seal(out, nonce, plaintext, nil)

	NewLogger("SealBackup").
		WithField("sealed_size", len(out)).
		Info("Backup sealed")

	return out, nil
}

// OpenBackup reverses SealBackup. A wrong passphrase yields a *DecryptionError.
func OpenBackup(sealed, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if len(sealed) < backupHeaderSize+16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBackupFormat, len(sealed))
	}

	version := binary.BigEndian.Uint16(sealed[0:2])
	if version != BackupVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrBackupFormat, version, BackupVersion)
	}

	salt := sealed[2 : 2+SaltSize]
	nonce := sealed[2+SaltSize : backupHeaderSize]

	gcm, err := passphraseGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed[backupHeaderSize:], nil)
	if err != nil {
		NewLogger("OpenBackup").WithError(err, "gcm open").Warn("Backup authentication failed")
		return nil, &DecryptionError{Reason: "wrong passphrase or corrupted backup", Err: err}
	}
	return plaintext, nil
}

func passphraseGCM(passphrase, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeySize, sha256.New)
	defer ZeroBytes(derived)

	block, err := aes.NewCipher(derived)
	if err != nil {
		NewLogger("passphraseGCM").WithError(err, "aes cipher").Error("Failed to build backup cipher")
		return nil, &DerivationError{Op: "passphrase key", Err: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		NewLogger("passphraseGCM").WithError(err, "gcm").Error("Failed to build backup cipher")
		return nil, &DerivationError{Op: "passphrase key", Err: err}
	}
	return gcm, nil
}
