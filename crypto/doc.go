// Package crypto implements the payload cipher for chamber conversations.
//
// Every conversation is protected by a single symmetric key derived from the
// two participants' public IDs. There is no key exchange: both sides compute
// the same key independently.
//
// # Conversation Keys
//
// [DeriveSharedKey] sorts the two IDs, concatenates them and hashes the
// result with SHA-256. The digest is the raw AES-256 key:
//
//	key, err := crypto.DeriveSharedKey(myID, peerID)
//	// DeriveSharedKey(peerID, myID) returns the same key
//
// Keys are recomputed on demand and never persisted. Call
// [ConversationKey.Wipe] when a key is no longer needed.
//
// # Encryption and Decryption
//
// Payloads are sealed with AES-256-GCM using a fresh random 12-byte IV per
// message. Text uses base64 for transport and storage, binary attachments
// use raw bytes:
//
//	ctB64, ivB64, _ := crypto.EncryptText("hello", key)
//	text, err := crypto.DecryptText(ctB64, ivB64, key)
//
//	sealed, _ := crypto.EncryptBinary(imageBytes, key)
//	data, err := crypto.DecryptBinary(sealed.Ciphertext, sealed.IV, key)
//
// Any authentication failure returns a [*DecryptionError], which matches
// [ErrDecryption] under errors.Is. Callers display such messages as
// unreadable instead of failing the whole view.
//
// # Backups
//
// [SealBackup] and [OpenBackup] protect exported snapshots with a passphrase
// using PBKDF2-SHA256 and AES-256-GCM.
//
// # Secure Memory
//
// [SecureWipe] and [ZeroBytes] overwrite sensitive buffers.
//
// # Logging
//
// [LoggerHelper] attaches "function" and "package" fields to logrus
// entries. [SecureFieldHash] logs a short preview of sensitive buffers
// rather than their contents.
//
// # Deterministic Testing
//
// [TimeProvider] abstracts the clock. Other packages accept one so tests can
// pin timestamps with [FixedTimeProvider].
package crypto
